// Package assembly builds one compiled assembly from a set of build units.
//
// Each unit's generator writes through a unit-scoped writer so generated
// files can be mapped back to the unit when the compiler reports errors.
// A builder compiles exactly once.
package assembly
