package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// consulHealthEntry mirrors the fields this provider reads from
// Consul's /v1/health/service/<name> response; Consul's actual
// payload carries far more (Checks, ...). An Endpoint is built from the
// service ID, address and port, with the node address as the fallback
// host; Tags is decoded but not used.
type consulHealthEntry struct {
	Service struct {
		ID      string   `json:"ID"`
		Address string   `json:"Address"`
		Port    int      `json:"Port"`
		Tags    []string `json:"Tags"`
	} `json:"Service"`
	Node struct {
		Address string `json:"Address"`
	} `json:"Node"`
}

// ConsulProvider polls a Consul agent's catalog over its plain HTTP
// API. Consul ships an official Go client, but the gateway only ever
// needs one read-only endpoint, so a dedicated client library would
// add a dependency surface for a single GET request; see DESIGN.md.
type ConsulProvider struct {
	Address    string
	Datacenter string
	Token      string
	Client     *http.Client
}

func NewConsulProvider(address, datacenter, token string) *ConsulProvider {
	return &ConsulProvider{Address: address, Datacenter: datacenter, Token: token, Client: http.DefaultClient}
}

func (p *ConsulProvider) Name() string { return "consul" }

func (p *ConsulProvider) Discover(ctx context.Context, serviceName string) ([]Endpoint, error) {
	url := fmt.Sprintf("%s/v1/health/service/%s?passing=true", p.Address, serviceName)
	if p.Datacenter != "" {
		url += "&dc=" + p.Datacenter
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if p.Token != "" {
		req.Header.Set("X-Consul-Token", p.Token)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consul health query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consul health query: status %d", resp.StatusCode)
	}

	var entries []consulHealthEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode consul response: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" {
			addr = e.Node.Address
		}
		endpoints = append(endpoints, Endpoint{
			ID:     e.Service.ID,
			Host:   addr,
			Port:   e.Service.Port,
			Weight: 1,
		})
	}
	return endpoints, nil
}
