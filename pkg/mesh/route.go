package mesh

import "time"

// Route is one entry in a node's distance-vector routing table: to reach
// Target, forward through NextHop, Distance hops away.
type Route struct {
	Target      string
	NextHop     string
	Distance    int
	LastUpdated time.Time
}
