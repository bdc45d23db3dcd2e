// Package graph holds the in-memory content graph of one build.
//
// Nodes are addressed by a stable id derived from their type and a key (a
// source path for file-derived nodes, a content or cache digest for derived
// ones). Re-running a build over unchanged input therefore yields the same
// ids, and adding a node whose id is already present is a no-op.
package graph
