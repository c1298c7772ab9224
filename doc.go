// Package stattree lets running objects expose named stats under a
// hierarchical namespace that mirrors the application's object graph.
//
// Design goals:
//   - Owners need no fields or embedding to gain stats: state lives in a
//     container the registry binds to the owner
//   - Parents are passed explicitly, and an ancestor exposing an
//     aggregator stat folds every same-named descendant stat into it
//   - Distributions and rates use bounded reservoirs and moving averages
//   - Snapshots are plain ordered trees for renderers and exporters
//
// Basic usage:
//
//	var (
//	  requests = stattree.NewIntStat("requests")
//	  total    = stattree.NewSumAggregationStat("requests")
//	  latency  = stattree.NewPmfStat("latency")
//	)
//
//	stattree.Register(server, "/server", total)
//	stattree.RegisterNumberedChild(conn, server, "conn", requests, latency)
//
//	requests.Inc(conn) // server's total follows
//	defer latency.Time(conn).Stop()
//
//	tree, _ := stattree.Snapshot("/server")
//	stattree.WriteJSON(os.Stdout, tree, true)
package stattree
