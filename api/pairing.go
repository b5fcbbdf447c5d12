package api

// Pairing is one traffic flow: Client runs the generator against Server using CC.
type Pairing struct {
	Client string
	Server string
	CC     string
}

// Servers returns the distinct servers in pairing order.
func Servers(pairings []Pairing) []string {
	seen := make(map[string]bool)
	servers := make([]string, 0, len(pairings))
	for _, p := range pairings {
		if !seen[p.Server] {
			seen[p.Server] = true
			servers = append(servers, p.Server)
		}
	}
	return servers
}
