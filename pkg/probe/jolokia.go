package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// MBeans exposed by the node
const (
	storageServiceMBean = "org.apache.cassandra.db:type=StorageService"
	snitchMBean         = "org.apache.cassandra.db:type=EndpointSnitchInfo"
	gossiperMBean       = "org.apache.cassandra.net:type=Gossiper"
)

// Operation signatures, needed where the mbean overloads the name
const (
	opCleanup     = "forceKeyspaceCleanup(java.lang.String,[Ljava.lang.String;)"
	opCompaction  = "forceKeyspaceCompaction(boolean,java.lang.String,[Ljava.lang.String;)"
	opUpgrade     = "upgradeSSTables(java.lang.String,boolean,int,[Ljava.lang.String;)"
	opSnapshot    = "takeSnapshot(java.lang.String,[Ljava.lang.String;)"
	opClear       = "clearSnapshot(java.lang.String,[Ljava.lang.String;)"
	opRepair      = "repairAsync(java.lang.String,java.util.Map)"
	opRepairState = "getParentRepairStatus(int)"
)

type jolokiaRequest struct {
	Type      string        `json:"type"`
	MBean     string        `json:"mbean"`
	Attribute string        `json:"attribute,omitempty"`
	Operation string        `json:"operation,omitempty"`
	Arguments []interface{} `json:"arguments,omitempty"`
}

type jolokiaResponse struct {
	Value     json.RawMessage `json:"value"`
	Status    int             `json:"status"`
	ErrorType string          `json:"error_type,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// JolokiaProbe talks to the node's JMX mbeans through a Jolokia HTTP agent.
// Each probe is bound to one node's agent URL.
type JolokiaProbe struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewJolokiaProbe creates a probe for the agent at url (e.g. http://10.0.0.5:8778/jolokia).
// timeout bounds every single call; zero means no timeout beyond the caller's context.
func NewJolokiaProbe(url string, timeout time.Duration) *JolokiaProbe {
	return &JolokiaProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: log.WithComponent("probe").With().Str("url", url).Logger(),
	}
}

// URL returns the agent URL the probe is bound to
func (p *JolokiaProbe) URL() string {
	return p.url
}

func (p *JolokiaProbe) call(ctx context.Context, op string, req jolokiaRequest, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyCall(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyCall(ctx, op, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return &Error{Op: op, Kind: ErrTransport, Err: fmt.Errorf("agent returned HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		// wrong agent path or credentials; retrying will not help
		return &Error{Op: op, Kind: ErrInvalidArgument, Err: fmt.Errorf("agent rejected request with HTTP %d", resp.StatusCode)}
	}

	var jr jolokiaResponse
	if err := json.Unmarshal(data, &jr); err != nil {
		return &Error{Op: op, Kind: ErrTransport, Err: fmt.Errorf("malformed agent response: %w", err)}
	}

	if jr.Status != http.StatusOK {
		perr := classifyRemote(op, jr.Status, jr.ErrorType, jr.Error)
		p.logger.Debug().Err(perr).Str("op", op).Msg("Probe call failed")
		return perr
	}

	if out == nil || len(jr.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(jr.Value, out); err != nil {
		return &Error{Op: op, Kind: ErrRemote, Err: fmt.Errorf("unexpected value %s: %w", jr.Value, err)}
	}
	return nil
}

func (p *JolokiaProbe) read(ctx context.Context, mbean, attr string, out interface{}) error {
	return p.call(ctx, attr, jolokiaRequest{Type: "read", MBean: mbean, Attribute: attr}, out)
}

func (p *JolokiaProbe) exec(ctx context.Context, mbean, op string, out interface{}, args ...interface{}) error {
	return p.call(ctx, op, jolokiaRequest{Type: "exec", MBean: mbean, Operation: op, Arguments: args}, out)
}

func (p *JolokiaProbe) readString(ctx context.Context, mbean, attr string) (string, error) {
	var s string
	err := p.read(ctx, mbean, attr, &s)
	return s, err
}

func (p *JolokiaProbe) readBool(ctx context.Context, attr string) (bool, error) {
	var b bool
	err := p.read(ctx, storageServiceMBean, attr, &b)
	return b, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (p *JolokiaProbe) OperationMode(ctx context.Context) (types.Mode, error) {
	s, err := p.readString(ctx, storageServiceMBean, "OperationMode")
	if err != nil {
		return types.ModeUnknown, err
	}
	mode, err := types.ParseMode(s)
	if err != nil {
		return types.ModeUnknown, &Error{Op: "OperationMode", Kind: ErrRemote, Err: err}
	}
	return mode, nil
}

func (p *JolokiaProbe) Keyspaces(ctx context.Context) ([]string, error) {
	var ks []string
	err := p.read(ctx, storageServiceMBean, "Keyspaces", &ks)
	return ks, err
}

func (p *JolokiaProbe) LocalHostID(ctx context.Context) (string, error) {
	return p.readString(ctx, storageServiceMBean, "LocalHostId")
}

// Endpoint resolves the node's own address from the host id map
func (p *JolokiaProbe) Endpoint(ctx context.Context) (string, error) {
	hostID, err := p.LocalHostID(ctx)
	if err != nil {
		return "", err
	}
	var m map[string]string
	if err := p.read(ctx, storageServiceMBean, "HostIdToEndpoint", &m); err != nil {
		return "", err
	}
	return m[hostID], nil
}

func (p *JolokiaProbe) Tokens(ctx context.Context) ([]string, error) {
	var tokens []string
	err := p.read(ctx, storageServiceMBean, "Tokens", &tokens)
	return tokens, err
}

func (p *JolokiaProbe) Datacenter(ctx context.Context) (string, error) {
	return p.readString(ctx, snitchMBean, "Datacenter")
}

func (p *JolokiaProbe) Rack(ctx context.Context) (string, error) {
	return p.readString(ctx, snitchMBean, "Rack")
}

func (p *JolokiaProbe) ReleaseVersion(ctx context.Context) (string, error) {
	return p.readString(ctx, storageServiceMBean, "ReleaseVersion")
}

func (p *JolokiaProbe) IsJoined(ctx context.Context) (bool, error) {
	return p.readBool(ctx, "Joined")
}

func (p *JolokiaProbe) IsInitialized(ctx context.Context) (bool, error) {
	return p.readBool(ctx, "Initialized")
}

func (p *JolokiaProbe) IsGossipRunning(ctx context.Context) (bool, error) {
	return p.readBool(ctx, "GossipRunning")
}

func (p *JolokiaProbe) IsNativeTransportRunning(ctx context.Context) (bool, error) {
	return p.readBool(ctx, "NativeTransportRunning")
}

func (p *JolokiaProbe) ForceKeyspaceCleanup(ctx context.Context, keyspace string, families ...string) error {
	return p.exec(ctx, storageServiceMBean, opCleanup, nil, keyspace, nonNil(families))
}

func (p *JolokiaProbe) ForceKeyspaceCompaction(ctx context.Context, keyspace string, families ...string) error {
	return p.exec(ctx, storageServiceMBean, opCompaction, nil, false, keyspace, nonNil(families))
}

func (p *JolokiaProbe) UpgradeSSTables(ctx context.Context, keyspace string, excludeCurrentVersion bool, jobs int, families ...string) error {
	return p.exec(ctx, storageServiceMBean, opUpgrade, nil, keyspace, excludeCurrentVersion, jobs, nonNil(families))
}

func (p *JolokiaProbe) TakeSnapshot(ctx context.Context, tag string, keyspaces ...string) error {
	return p.exec(ctx, storageServiceMBean, opSnapshot, nil, tag, nonNil(keyspaces))
}

func (p *JolokiaProbe) ClearSnapshot(ctx context.Context, tag string, keyspaces ...string) error {
	return p.exec(ctx, storageServiceMBean, opClear, nil, tag, nonNil(keyspaces))
}

func (p *JolokiaProbe) RepairAsync(ctx context.Context, keyspace string, options map[string]string) (int, error) {
	if options == nil {
		options = map[string]string{}
	}
	var cmd int
	err := p.exec(ctx, storageServiceMBean, opRepair, &cmd, keyspace, options)
	return cmd, err
}

func (p *JolokiaProbe) RepairStatus(ctx context.Context, command int) (RepairState, error) {
	var status []string
	if err := p.exec(ctx, storageServiceMBean, opRepairState, &status, command); err != nil {
		return "", err
	}
	if len(status) == 0 {
		return "", &Error{Op: opRepairState, Kind: ErrInvalidArgument, Err: fmt.Errorf("unknown repair command %d", command)}
	}
	return RepairState(status[0]), nil
}

func (p *JolokiaProbe) Decommission(ctx context.Context) error {
	return p.exec(ctx, storageServiceMBean, "decommission", nil)
}

func (p *JolokiaProbe) Drain(ctx context.Context) error {
	return p.exec(ctx, storageServiceMBean, "drain", nil)
}

func (p *JolokiaProbe) AssassinateEndpoint(ctx context.Context, address string) error {
	return p.exec(ctx, gossiperMBean, "assassinateEndpoint", nil, address)
}
