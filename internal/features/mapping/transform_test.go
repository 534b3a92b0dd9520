package mapping

import (
	"testing"
	"time"

	"crm-sync/internal/providers"
)

func TestTransformationApply(t *testing.T) {
	source := providers.NewCrmRecord()
	source.Set("firstname", providers.String("Ana"))
	source.Set("lastname", providers.String("Silva"))

	birthday := time.Date(1990, 3, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tr      Transformation
		in      providers.Value
		want    providers.Value
		wantErr bool
	}{
		{
			name: "none passes through",
			tr:   Transformation{Kind: TransformNone},
			in:   providers.String("as-is"),
			want: providers.String("as-is"),
		},
		{
			name: "empty kind passes through",
			tr:   Transformation{},
			in:   providers.Number(3),
			want: providers.Number(3),
		},
		{
			name: "uppercase",
			tr:   Transformation{Kind: TransformUppercase},
			in:   providers.String("ana"),
			want: providers.String("ANA"),
		},
		{
			name: "uppercase ignores non-strings",
			tr:   Transformation{Kind: TransformUppercase},
			in:   providers.Number(5),
			want: providers.Number(5),
		},
		{
			name: "lowercase",
			tr:   Transformation{Kind: TransformLowercase},
			in:   providers.String("LOUD"),
			want: providers.String("loud"),
		},
		{
			name: "date_format with layout",
			tr:   Transformation{Kind: TransformDateFormat, Config: map[string]interface{}{"layout": "2006-01-02"}},
			in:   providers.Timestamp(birthday),
			want: providers.String("1990-03-14"),
		},
		{
			name: "date_format parses string input",
			tr:   Transformation{Kind: TransformDateFormat, Config: map[string]interface{}{"layout": "02/01/2006"}},
			in:   providers.String("1990-03-14T00:00:00Z"),
			want: providers.String("14/03/1990"),
		},
		{
			name:    "date_format rejects garbage",
			tr:      Transformation{Kind: TransformDateFormat},
			in:      providers.String("not a date"),
			wantErr: true,
		},
		{
			name: "lookup hit",
			tr: Transformation{Kind: TransformLookup, Config: map[string]interface{}{
				"values": map[string]interface{}{"1": "active", "2": "inactive"},
			}},
			in:   providers.String("1"),
			want: providers.String("active"),
		},
		{
			name: "option_set miss uses default",
			tr: Transformation{Kind: TransformOptionSet, Config: map[string]interface{}{
				"values":  map[string]interface{}{"gold": 100.0},
				"default": 0.0,
			}},
			in:   providers.String("bronze"),
			want: providers.Number(0),
		},
		{
			name: "lookup miss without default errors",
			tr: Transformation{Kind: TransformLookup, Config: map[string]interface{}{
				"values": map[string]interface{}{"a": "b"},
			}},
			in:      providers.String("c"),
			wantErr: true,
		},
		{
			name: "concatenate siblings",
			tr: Transformation{Kind: TransformConcatenate, Config: map[string]interface{}{
				"fields":    []interface{}{"firstname", "lastname"},
				"separator": " ",
			}},
			in:   providers.Null(),
			want: providers.String("Ana Silva"),
		},
		{
			name: "split picks index",
			tr: Transformation{Kind: TransformSplit, Config: map[string]interface{}{
				"separator": " ",
				"index":     1.0,
			}},
			in:   providers.String("Ana Silva"),
			want: providers.String("Silva"),
		},
		{
			name: "split index out of range",
			tr: Transformation{Kind: TransformSplit, Config: map[string]interface{}{
				"index": 5.0,
			}},
			in:      providers.String("single"),
			wantErr: true,
		},
		{
			name: "custom script",
			tr: Transformation{Kind: TransformCustom, Config: map[string]interface{}{
				"script": `output := value + " (" + record["lastname"] + ")"`,
			}},
			in:   providers.String("Ana"),
			want: providers.String("Ana (Silva)"),
		},
		{
			name:    "unknown kind",
			tr:      Transformation{Kind: "reverse"},
			in:      providers.String("x"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tr.Apply(tt.in, source)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Apply() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
