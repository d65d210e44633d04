// Package sim owns the shared data model of the calcium-simulation
// visualisation pipeline.
//
// Responsibilities: neuron identifiers, positions, activity samples and
// time series, edges, the explicit missing-value type, the error taxonomy
// and the warning collector shared by every stage.
//
// Dependency rule: sim depends on nothing else in this module; every
// stage package under internal/sim/ may depend on sim.
package sim
