package multicast

// ---------------------------------------------------------------------------
// Method tables
// ---------------------------------------------------------------------------

// Bind resolves one method value per listener, giving the table a baked
// dispatcher calls through.
//
//	ticks := multicast.Bind(ls, func(l Ticker) func(int) { return l.Tick })
func Bind[T, F any](listeners []T, method func(T) F) []F {
	out := make([]F, len(listeners))
	for i, l := range listeners {
		out[i] = method(l)
	}
	return out
}

// Fan0 returns a function calling every fn in order. Two and three entry
// tables are unrolled.
func Fan0(fns []func()) func() {
	switch len(fns) {
	case 0:
		return func() {}
	case 1:
		return fns[0]
	case 2:
		a, b := fns[0], fns[1]
		return func() { a(); b() }
	case 3:
		a, b, c := fns[0], fns[1], fns[2]
		return func() { a(); b(); c() }
	}
	return func() {
		for _, f := range fns {
			f()
		}
	}
}

// Fan1 is Fan0 for one argument.
func Fan1[A any](fns []func(A)) func(A) {
	switch len(fns) {
	case 0:
		return func(A) {}
	case 1:
		return fns[0]
	case 2:
		a, b := fns[0], fns[1]
		return func(x A) { a(x); b(x) }
	case 3:
		a, b, c := fns[0], fns[1], fns[2]
		return func(x A) { a(x); b(x); c(x) }
	}
	return func(x A) {
		for _, f := range fns {
			f(x)
		}
	}
}

// Fan2 is Fan0 for two arguments.
func Fan2[A, B any](fns []func(A, B)) func(A, B) {
	switch len(fns) {
	case 0:
		return func(A, B) {}
	case 1:
		return fns[0]
	case 2:
		a, b := fns[0], fns[1]
		return func(x A, y B) { a(x, y); b(x, y) }
	}
	return func(x A, y B) {
		for _, f := range fns {
			f(x, y)
		}
	}
}
