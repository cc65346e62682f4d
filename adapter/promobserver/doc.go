// Package promobserver exports xdispatch lifecycle events as Prometheus
// metrics. The core stays metrics-agnostic: this is just an Observer, fed
// asynchronously, so scraping never touches the dispatch path.
package promobserver
