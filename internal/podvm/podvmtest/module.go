// Package podvmtest assembles small wasm modules speaking the podvm call ABI.
package podvmtest

// Func describes an exported function of a generated module.
type Func struct {
	Name   string // Name is the export name, such as "Counter.increment"
	Output []byte // Output is written back verbatim when the function runs
	Gas    uint32 // Gas is charged before the output is written
}

const (
	importWriteOutput = 0
	importGas         = 1
	firstFunction     = 2
)

// Module assembles a wasm module that imports the host functions and exports
// one function per entry of funcs, plus its linear memory as "memory".
func Module(funcs ...Func) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// () -> (), (i32, i32) -> (), (i32) -> ()
	types := vec(3,
		[]byte{0x60, 0x00, 0x00},
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x00},
		[]byte{0x60, 0x01, 0x7f, 0x00},
	)
	out = append(out, section(1, types)...)

	imports := vec(2,
		cat(name("env"), name("write_output"), []byte{0x00}, uleb(1)),
		cat(name("env"), name("gas"), []byte{0x00}, uleb(2)),
	)
	out = append(out, section(2, imports)...)

	var (
		decls   [][]byte
		exports [][]byte
		bodies  [][]byte
		data    []byte
	)

	for i, f := range funcs {
		decls = append(decls, uleb(0))
		exports = append(exports, cat(name(f.Name), []byte{0x00}, uleb(uint32(firstFunction+i))))
		bodies = append(bodies, body(f, len(data)))
		data = append(data, f.Output...)
	}

	exports = append(exports, cat(name("memory"), []byte{0x02, 0x00}))

	out = append(out, section(3, vec(len(decls), decls...))...)
	out = append(out, section(5, []byte{0x01, 0x00, byte(len(data)/65536 + 1)})...)
	out = append(out, section(7, vec(len(exports), exports...))...)
	out = append(out, section(10, vec(len(bodies), bodies...))...)

	if len(data) > 0 {
		segment := cat([]byte{0x00, 0x41, 0x00, 0x0b}, uleb(uint32(len(data))), data)
		out = append(out, section(11, vec(1, segment))...)
	}

	return out
}

// body builds the code entry of f, whose output starts at offset in memory.
func body(f Func, offset int) []byte {
	code := []byte{0x00}

	if f.Gas > 0 {
		code = append(code, 0x41)
		code = append(code, sleb(int64(f.Gas))...)
		code = append(code, 0x10, importGas)
	}

	if len(f.Output) > 0 {
		code = append(code, 0x41)
		code = append(code, sleb(int64(offset))...)
		code = append(code, 0x41)
		code = append(code, sleb(int64(len(f.Output)))...)
		code = append(code, 0x10, importWriteOutput)
	}

	code = append(code, 0x0b)

	return cat(uleb(uint32(len(code))), code)
}

func section(id byte, content []byte) []byte {
	return cat([]byte{id}, uleb(uint32(len(content))), content)
}

func vec(n int, items ...[]byte) []byte {
	return cat(append([][]byte{uleb(uint32(n))}, items...)...)
}

func name(s string) []byte {
	return cat(uleb(uint32(len(s))), []byte(s))
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}

	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
