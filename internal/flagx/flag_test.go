package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	allowed := []string{"-c", "--config"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "short flag keeps its value argument",
			args: []string{"-c", "server.json", "-dsn", "postgres://x"},
			want: []string{"-c", "server.json"},
		},
		{
			name: "equals form is kept whole",
			args: []string{"--config=prod.json", "-dsn", "postgres://x"},
			want: []string{"--config=prod.json"},
		},
		{
			name: "order preserved when both forms appear",
			args: []string{"--config=a.json", "-c", "b.json"},
			want: []string{"--config=a.json", "-c", "b.json"},
		},
		{
			name: "unrelated flags and positionals dropped",
			args: []string{"-bucket", "cold", "--region=eu-west-1", "migrate"},
			want: []string{},
		},
		{
			name: "trailing flag without a value survives",
			args: []string{"-dsn", "postgres://x", "-c"},
			want: []string{"-c"},
		},
		{
			name: "next dash token is not consumed as a value",
			args: []string{"-c", "--config=alt.json"},
			want: []string{"-c", "--config=alt.json"},
		},
		{
			name: "repeated flag kept each time",
			args: []string{"-c", "one.json", "-c", "two.json"},
			want: []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name: "empty input",
			args: nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short form", []string{"coldkeeper", "-c", "/etc/coldkeeper/server.json"}, "/etc/coldkeeper/server.json"},
		{"long form", []string{"coldkeeper", "-config", "conf.json"}, "conf.json"},
		{"absent", []string{"coldkeeper", "-dsn", "postgres://x"}, ""},
		{"last one wins", []string{"coldkeeper", "-c", "a.json", "-config", "b.json"}, "b.json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			assert.Equal(t, tt.want, JsonConfigFlags())
		})
	}
}
