// Package classfile is an in-memory model of JVM class files.
//
// Parse decodes a class into a Class whose methods carry an ordered
// instruction stream. Operands are normalized: member references are held
// symbolically and re-interned into the append-only constant pool when the
// class is written, branch targets are Labels placed by OpLabel pseudo
// instructions, and short or wide encodings are chosen again by Bytes.
//
// Method bodies that were not edited are written back byte for byte.
package classfile
