// Package splatfile reads and writes compressed splat files, optionally carrying a laid out
// LoD tree.
//
// A file is a single gzip stream. Inside it, a fixed header is followed by one array per
// attribute, each holding a value for every point before the next attribute starts. Grouping
// like values this way compresses far better than writing each splat whole.
//
// Using a pseudo EBNF notation, the decompressed stream is:
//
//	file = header positions alphas colors scales rotations sh [child_counts child_starts]
//
//	header =
//	  magic           : uint32 0x5053474e ("NGSP" little endian)
//	  version         : uint32
//	  num_points      : uint32
//	  sh_degree       : uint8 (0 to 3)
//	  fractional_bits : uint8
//	  flags           : uint8 (0x01 antialiased, 0x80 contains an LoD tree)
//	  reserved        : uint8 (0)
//
//	positions    : num_points * 3 * int24, fixed point with fractional_bits fraction bits
//	alphas       : num_points * uint8
//	colors       : num_points * 3 * uint8, linear rgb * 255
//	scales       : num_points * 3 * uint8, 16 * (ln(scale) + 10), 0 meaning exactly zero
//	rotations    : num_points * 3 * uint8, quaternion x y z with w >= 0, (v + 1) * 127.5
//	sh           : num_points * coefficients(sh_degree) * 3 * uint8, v * 128 + 128
//	child_counts : num_points * uint16
//	child_starts : num_points * uint32
//
// All multi byte values are little endian. The child arrays are present only when the LoD
// flag is set, in which case point i is node i of the tree: node 0 is the root and the
// children of node i are [child_starts[i], child_starts[i]+child_counts[i]).
//
// Alphas of a flat file are ordinary opacities times 255. In an LoD file the byte v/255
// encodes extended opacity instead: [0, 0.5] maps linearly onto D in [0, 1] and (0.5, 1] onto
// D in (1, 4] via D = 1 + 6(v - 0.5).
//
// A reader rejects the whole file if the child arrays point outside the file, a child does
// not come after its parent, or a node other than the root does not have exactly one parent.
package splatfile
