package transformer

import (
	"errors"
	"testing"

	"strikeoffetl/pkg/records"
)

/*
addField mutates each record in place by setting key -> value. Used to verify
mutation flows through Chain.
*/
func addField(key string, val any) Transformer {
	return Func(func(in []records.Record) ([]records.Record, error) {
		for i := range in {
			in[i][key] = val
		}
		return in, nil
	})
}

/*
requireField keeps only records with a non-empty value for key, reslicing the
input in place.
*/
func requireField(key string) Transformer {
	return Func(func(in []records.Record) ([]records.Record, error) {
		out := in[:0]
		for _, r := range in {
			if !records.IsEmpty(r[key]) {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

func TestChain_AppliesInOrder(t *testing.T) {
	t.Parallel()

	in := []records.Record{{"id": "a"}, {"id": ""}, {"id": "c"}}
	c := Chain{
		{Name: "require", T: requireField("id")},
		{Name: "tag", T: addField("seen", true)},
	}

	var steps []string
	var sizes []int
	out, err := c.Observe(in, func(step string, rows int) {
		steps = append(steps, step)
		sizes = append(sizes, rows)
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(out) != 2 || out[0]["seen"] != true || out[1]["id"] != "c" {
		t.Fatalf("unexpected output: %#v", out)
	}
	if len(steps) != 2 || steps[0] != "require" || sizes[0] != 2 || sizes[1] != 2 {
		t.Fatalf("unexpected observations: %v %v", steps, sizes)
	}
}

func TestChain_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	called := false
	c := Chain{
		{Name: "fail", T: Func(func([]records.Record) ([]records.Record, error) { return nil, boom })},
		{Name: "never", T: Func(func(in []records.Record) ([]records.Record, error) {
			called = true
			return in, nil
		})},
	}

	_, err := c.Apply([]records.Record{{}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if err.Error() != "fail: boom" {
		t.Fatalf("error not labeled with step name: %q", err)
	}
	if called {
		t.Fatal("step after failure was executed")
	}
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	in := []records.Record{{"a": 1}}
	out, err := Chain(nil).Apply(in)
	if err != nil || len(out) != 1 {
		t.Fatalf("empty chain should pass input through, got %v %v", out, err)
	}
}
