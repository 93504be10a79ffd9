// meta/meta.go
package meta

import "time"

// WORKERS defines the number of search goroutines of parallel agents.
const WORKERS = 8

// ITERATIONS defines the default number of iterations per search.
const ITERATIONS = 1000

// DURATION defines the default time budget of timed searches.
const DURATION = 10 * time.Millisecond

// GAMES defines the number of games per experiment match up.
const GAMES = 30

// NAMESPACE prefixes the exported Prometheus metrics.
const NAMESPACE = "treesearch"
