package pool_test

import (
	"fmt"

	"github.com/spez-io/spez/pkg/pool"
)

// Example shows a scratch buffer borrowed for a single serialization.
func Example() {
	buf := pool.GetScratch()
	*buf = append(*buf, `{"id":7}`...)

	out := make([]byte, len(*buf))
	copy(out, *buf)
	pool.PutScratch(buf)

	fmt.Println(string(out))

	// Output:
	// {"id":7}
}

// ExampleNew shows a custom typed pool with a reset function.
func ExampleNew() {
	p := pool.New(
		func() []string { return make([]string, 0, 8) },
		nil,
	)

	names := p.Get()
	names = append(names, "SingerId", "FirstName")
	fmt.Println(len(names))
	p.Put(names[:0])

	_, inUse, _ := p.Stats()
	fmt.Println(inUse)

	// Output:
	// 2
	// 0
}
