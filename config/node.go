package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// NodeConfig holds the connection parameters read from the blockchain
// node's own conf file (evrmore.conf), a flat key=value format the node
// software owns. rpcbind/rpcport/rpcuser/rpcpassword feed the RPC client;
// the zmqpub* keys feed the ZMQ subscriber.
type NodeConfig struct {
	RPCUser     string
	RPCPassword string
	RPCBind     string
	RPCPort     string

	ZMQPubHashTx    string
	ZMQPubHashBlock string
	ZMQPubSequence  string
}

// LoadNodeConfig parses a node .conf file: one "key=value" pair per line,
// blank lines and "#"-prefixed comments ignored. This format is fixed by
// the node software, not by this repo, so it is read with a small
// hand-written scanner rather than a general-purpose config library.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open node conf: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read node conf: %w", err)
	}

	cfg := &NodeConfig{
		RPCUser:         values["rpcuser"],
		RPCPassword:     values["rpcpassword"],
		RPCBind:         firstNonEmpty(values["rpcbind"], "127.0.0.1"),
		RPCPort:         firstNonEmpty(values["rpcport"], "8819"),
		ZMQPubHashTx:    values["zmqpubhashtx"],
		ZMQPubHashBlock: values["zmqpubhashblock"],
		ZMQPubSequence:  values["zmqpubsequence"],
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
