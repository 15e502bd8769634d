package canonicalize

import "testing"

func TestEncodeAtom(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect string
	}{
		{
			name:   "Simple String",
			input:  "hello world",
			expect: HashBytes([]byte("hello world")),
		},
		{
			name: "JSON Object (Unordered Keys)",
			input: map[string]interface{}{
				"b": 2,
				"a": 1,
			},
			expect: HashBytes([]byte(`{"a":1,"b":2}`)),
		},
		{
			name: "JSON Nested Object",
			input: map[string]interface{}{
				"x": map[string]interface{}{
					"z": 10,
					"y": 5,
				},
			},
			expect: HashBytes([]byte(`{"x":{"y":5,"z":10}}`)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atom, err := EncodeAtom(tt.input)
			if err != nil {
				t.Fatalf("EncodeAtom failed: %v", err)
			}

			if atom.Hash != tt.expect {
				t.Errorf("Hash mismatch:\nGot:  %s\nWant: %s", atom.Hash, tt.expect)
			}
			if len(atom.Hash) != 64 {
				t.Errorf("atom_hash must be 64 hex characters, got %d", len(atom.Hash))
			}
		})
	}
}
