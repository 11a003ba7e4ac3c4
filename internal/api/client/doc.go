// Package client is the HTTP side of the axiomd API: health, mount listing,
// glob and archive download, plus fetching remote documents such as seed
// manifests. Requests go through resty over a retrying transport and a
// circuit breaker shared by every call of one Client.
package client
