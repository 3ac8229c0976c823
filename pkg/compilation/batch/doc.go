// Package batch partitions the units of a directory into dependency levels
// and groups each level into compiler batches.
//
// Units in the same level never depend on each other, so their batches can
// compile in parallel. A level must be compiled and cached before the next
// one starts because later units reference the earlier assemblies.
package batch
