package sconcur_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/petrijr/sconcur"
	"github.com/petrijr/sconcur/pkg/wire"
)

// Example demonstrates pushing a task to a flow and waiting for its outcome.
func Example() {
	ctx := context.Background()

	eng, err := sconcur.New(
		sconcur.WithWorkers(2),
		sconcur.WithHandler(100, sconcur.HandlerFunc(greet)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Destroy(ctx)

	if _, err := eng.Push(ctx, sconcur.Request{
		FlowKey: "greetings",
		TaskKey: "hello",
		Method:  100,
		Payload: "gopher",
	}); err != nil {
		log.Fatal(err)
	}

	out, err := eng.Wait(ctx, "greetings")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out.TaskKey, out.Status, out.Result)

	// Output:
	// hello Completed Hello, GOPHER!
}

// Example_wire demonstrates the string boundary: every call returns a
// self-contained JSON document or an error document.
func Example_wire() {
	ctx := context.Background()

	eng := sconcur.MustNew(sconcur.WithHandler(100, sconcur.HandlerFunc(greet)))
	defer eng.Destroy(ctx)
	f := wire.NewFacade(eng)

	fmt.Println(f.Push(ctx, "greetings", 100, "hello", "gopher"))
	fmt.Println(f.Push(ctx, "greetings", 42, "nope", ""))
	fmt.Println(f.StopFlow(ctx, "unknown") == "")

	// Output:
	// {"flowKey":"greetings","taskKey":"hello","status":"Pending"}
	// {"error":{"code":"UnknownMethod","message":"push greetings/nope: unknown method: 42"}}
	// true
}

func greet(ctx context.Context, req sconcur.Request) (string, error) {
	return fmt.Sprintf("Hello, %s!", strings.ToUpper(req.Payload)), nil
}
