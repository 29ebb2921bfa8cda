// Package preference holds the pure algorithms of the preference engine:
// dense rank maintenance, forest assembly, subtree aggregation and the
// serving-threshold partition. Nothing here touches storage; services load
// data, call into this package, and persist the result.
package preference
