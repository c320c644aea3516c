package membership

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// GatewayProvider lists the client gateways advertised in a membership table
type GatewayProvider struct {
	table Table
}

// NewGatewayProvider reads gateways from table
func NewGatewayProvider(table Table) *GatewayProvider {
	return &GatewayProvider{table: table}
}

// GatewayURI renders a silo's gateway endpoint
func GatewayURI(entry MembershipEntry) string {
	return "gwy.tcp://" + entry.SiloAddress.Host + ":" + strconv.Itoa(entry.ProxyPort) + "/" +
		strconv.FormatInt(int64(entry.SiloAddress.Generation), 10)
}

// Gateways returns the gateway URIs of every active silo with a proxy
// port, sorted.
func (g *GatewayProvider) Gateways(ctx context.Context) ([]string, error) {
	data, err := g.table.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("membership: list gateways: %w", err)
	}

	var uris []string
	for _, e := range data.Entries {
		if e.Entry.Status == StatusActive && e.Entry.ProxyPort > 0 {
			uris = append(uris, GatewayURI(e.Entry))
		}
	}
	sort.Strings(uris)
	return uris, nil
}
