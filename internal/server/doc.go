// Package server is the chatline gateway: the gin REST surface, the
// WebSocket push channel, and the Hub that fans appended messages out to
// every live connection.
//
// Each connection gets a read pump and a write pump. The write pump sends
// the message history as its first frame and then drains the client's
// buffered queue, one event per frame.
package server
