package opcua

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxAge          time.Duration `yaml:"max_age"`
	// Machines maps machine id to field name -> node id, e.g.
	// "vibration_rms": "ns=2;s=CNC_001.Vibration".
	Machines map[string]map[string]string `yaml:"machines"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisPredict"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Machines) == 0 {
		return errors.New("at least one machine must be configured")
	}
	for id, nodes := range c.Machines {
		if _, err := buildReadRequest(nodes, c.MaxAge); err != nil {
			return fmt.Errorf("machine %s: %w", id, err)
		}
	}
	return nil
}

// Collector polls the nine measured nodes of a machine with a single Read
// request per tick.
type Collector struct {
	cfg      Config
	requests map[string]*ua.ReadRequest

	mu     sync.Mutex
	client *opcua.Client
}

func NewCollector(cfg Config) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reqs := make(map[string]*ua.ReadRequest, len(cfg.Machines))
	for id, nodes := range cfg.Machines {
		req, err := buildReadRequest(nodes, cfg.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", id, err)
		}
		reqs[id] = req
	}
	return &Collector{cfg: cfg, requests: reqs}, nil
}

// Machines lists the configured machine ids in sorted order.
func (c *Collector) Machines() []string {
	ids := make([]string, 0, len(c.requests))
	for id := range c.requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return fmt.Errorf("opcua collector already started")
	}

	client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}
	c.client = client
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Collect reads all nine fields of a machine. The reading is stamped with the
// tick time so every machine in a firing shares one timestamp.
func (c *Collector) Collect(ctx context.Context, machineID string, at time.Time) (domain.Reading, error) {
	req, ok := c.requests[machineID]
	if !ok {
		return domain.Reading{}, fmt.Errorf("opcua: unknown machine %q", machineID)
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return domain.Reading{}, errors.New("opcua collector not started")
	}

	readCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	resp, err := client.Read(readCtx, req)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("opcua read %s: %w", machineID, err)
	}
	return readingFromResults(machineID, at, resp.Results)
}

func buildReadRequest(nodes map[string]string, maxAge time.Duration) (*ua.ReadRequest, error) {
	req := &ua.ReadRequest{
		MaxAge:             float64(maxAge / time.Millisecond),
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, 0, domain.RawFieldCount),
	}
	for name := range nodes {
		if _, ok := domain.ParseField(name); !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
	}
	for _, f := range domain.RawFields() {
		raw, ok := nodes[f.String()]
		if !ok || raw == "" {
			return nil, fmt.Errorf("missing node id for %s", f)
		}
		id, err := ua.ParseNodeID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", raw, err)
		}
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
		})
	}
	return req, nil
}

func readingFromResults(machineID string, at time.Time, results []*ua.DataValue) (domain.Reading, error) {
	if len(results) != domain.RawFieldCount {
		return domain.Reading{}, fmt.Errorf("opcua read %s: expected %d results, got %d", machineID, domain.RawFieldCount, len(results))
	}
	r := domain.Reading{MachineID: machineID, Timestamp: at}
	for i, f := range domain.RawFields() {
		dv := results[i]
		if dv == nil {
			return domain.Reading{}, fmt.Errorf("opcua read %s: empty result for %s", machineID, f)
		}
		if dv.Status != ua.StatusOK {
			return domain.Reading{}, fmt.Errorf("opcua read %s: %s status %s", machineID, f, dv.Status)
		}
		v, ok := variantToFloat(dv.Value)
		if !ok {
			return domain.Reading{}, fmt.Errorf("opcua read %s: unsupported type for %s", machineID, f)
		}
		r = r.WithValue(f, v)
	}
	return r, nil
}

func (c *Collector) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.RequestTimeout(c.cfg.RequestTimeout),
		opcua.AutoReconnect(true),
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var (
	_ ports.Collector       = (*Collector)(nil)
	_ ports.MachineRegistry = (*Collector)(nil)
)
