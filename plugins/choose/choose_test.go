package choose

import (
	"context"
	"reflect"
	"testing"

	"github.com/mcint/nullbot/gateway"
	"github.com/mcint/nullbot/router"
	"github.com/mcint/nullbot/testutil"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		sep  string
		want []string
	}{
		{"comma", "a,b,c", ",", []string{"a", "b", "c"}},
		{"trims", " a , b ", ",", []string{"a", "b"}},
		{"drops empty", "a,,b,", ",", []string{"a", "b"}},
		{"custom sep keeps commas", "a|b, c|d", "|", []string{"a", "b, c", "d"}},
		{"single", "pizza", ",", []string{"pizza"}},
		{"only separators", ",,", ",", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Split(tt.in, tt.sep); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q, %q) = %q, want %q", tt.in, tt.sep, got, tt.want)
			}
		})
	}
}

func TestChooseCommand(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		pick  int
		reply []string
	}{
		{"default separator", "!choose tea,coffee,water", 1, []string{"coffee"}},
		{"custom separator", "!choose; a,b;c", 0, []string{"a,b"}},
		{"last option", "!choose x, y", 1, []string{"y"}},
		{"no options", "!choose ,,,", 0, []string{usage}},
		{"letter separator", "!chooser a r b", 1, []string{"b"}},
		{"not a command", "!choos a,b", 0, nil},
		{"no args", "!choose", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := testutil.NewFakeGateway()
			r := router.New(gw)
			c := &Chooser{intn: func(int) int { return tt.pick }}
			if err := c.Register(r); err != nil {
				t.Fatal(err)
			}
			r.Dispatch(context.Background(), gateway.Message{Room: "!r", Body: tt.body})
			got := gw.SentTexts()
			if len(got) != len(tt.reply) || (len(got) > 0 && !reflect.DeepEqual(got, tt.reply)) {
				t.Errorf("replies = %q, want %q", got, tt.reply)
			}
		})
	}
}

func TestChooseIsUniformOverOptions(t *testing.T) {
	gw := testutil.NewFakeGateway()
	r := router.New(gw)
	var sizes []int
	c := &Chooser{intn: func(n int) int { sizes = append(sizes, n); return n - 1 }}
	if err := c.Register(r); err != nil {
		t.Fatal(err)
	}
	r.Dispatch(context.Background(), gateway.Message{Room: "!r", Body: "!choose a,b,c,d"})
	if !reflect.DeepEqual(sizes, []int{4}) {
		t.Errorf("intn called with %v, want [4]", sizes)
	}
	if got := gw.SentTexts(); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("replies = %q", got)
	}
}
