package postgres

import "testing"

func TestMigrationURLUsesPgxScheme(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/invenda?sslmode=disable": "pgx5://u:p@db:5432/invenda?sslmode=disable",
		"postgresql://db/invenda":                        "pgx5://db/invenda",
		"pgx5://db/invenda":                              "pgx5://db/invenda",
	}
	for in, want := range cases {
		if got := migrationURL(in); got != want {
			t.Fatalf("migrationURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape result %q", got)
	}
}
