// Package bridge serves a node to a local UI over HTTP.
//
// Request/response endpoints cover status, friends, history, sending and typing
// indicators. GET /events is a server-sent event stream fed by a [Broker], which
// is installed as the node's event sink:
//
//	broker := bridge.NewBroker(0)
//	node, _ := peerchat.New(peerchat.Deps{..., Events: broker}, opts)
//	srv := bridge.NewServer(node, broker, bridge.Options{})
//	http.ListenAndServe("127.0.0.1:7401", srv)
//
// Each event is written as
//
//	event: new_message
//	data: {"type":"new_message","time":"...","peer":"bob","message":{...}}
//
// Slow subscribers lose events rather than stalling the node.
package bridge
