// Package quantity interprets the quantity phrases that scenario authors
// write in prose ("no errors", "a few lines", "lots of tuples", "3 nodes")
// and checks observed counts against them.
//
// A phrase is classified into one Category by a single ordered match and
// mapped to an inclusive Range. The tolerance of the fuzzy categories keeps
// scenarios stable against timing nondeterminism in the system under test.
//
// The package also provides ListSplit, which splits human lists such as
// "a, b and c" into their items.
package quantity
