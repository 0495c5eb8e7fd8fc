// Package output renders probe run results as text, JSON, YAML or HTML and
// draws a live progress line while a run is in flight.
package output
