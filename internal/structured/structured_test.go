package structured

import "testing"

func TestIsReadOnly(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  bool
	}{
		{"select with replace function", "SELECT REPLACE(name,'a','b') FROM incidents", true},
		{"select with merge-named column", "SELECT merge_status FROM incidents", true},
		{"select with call-named alias", "SELECT id AS call_id FROM incidents", true},
		{"select with created_at column", "SELECT created_at FROM incidents", true},
		{"with cte", "WITH recent AS (SELECT * FROM incidents) SELECT * FROM recent", true},
		{"leading delete", "DELETE FROM incidents", false},
		{"leading drop", "DROP TABLE incidents", false},
		{"multi-statement drop", "SELECT 1; DROP TABLE incidents", false},
		{"leading merge", "MERGE INTO incidents USING staged ON true WHEN MATCHED THEN DELETE", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReadOnly(tc.query); got != tc.want {
				t.Errorf("isReadOnly(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}
