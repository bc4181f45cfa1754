package pgtest

import (
	"context"
	"testing"
	"time"

	faker "github.com/go-faker/faker/v4"
)

// Person is the standard fixture row used by integration tests.
type Person struct {
	ID    int64  `faker:"-"`
	Name  string `faker:"name"`
	Email string `faker:"email"`
}

// CreatePeople creates the people fixture table in the sandbox schema.
func CreatePeople(t *testing.T, sbx *Sandbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := sbx.DB.ExecContext(ctx,
		`CREATE TABLE people (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create people: %v", err)
	}
}

// SeedPeople inserts n fake rows and returns them with ids assigned.
func SeedPeople(t *testing.T, sbx *Sandbox, n int) []Person {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	people := make([]Person, 0, n)
	for i := 0; i < n; i++ {
		var p Person
		if err := faker.FakeData(&p); err != nil {
			t.Fatalf("faker.FakeData(): %v", err)
		}
		row := sbx.DB.QueryRowContext(ctx,
			`INSERT INTO people (name, email) VALUES ($1, $2) RETURNING id`, p.Name, p.Email)
		if err := row.Scan(&p.ID); err != nil {
			t.Fatalf("seed people: %v", err)
		}
		people = append(people, p)
	}
	return people
}
