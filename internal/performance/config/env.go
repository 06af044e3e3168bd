package config

import (
	"github.com/wesleyorama2/surge/internal/performance"
)

// Environment variables that override the credential pool.
const (
	EnvValidUserEmail    = "VALID_USER_EMAIL"
	EnvValidUserPassword = "VALID_USER_PASSWORD"
	EnvTestUserEmail     = "TEST_USER_EMAIL"
	EnvTestUserPassword  = "TEST_USER_PASSWORD"
	EnvTestUserName      = "TEST_USER_NAME"
)

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv applies credential overrides from the environment.
//
// VALID_USER_EMAIL and VALID_USER_PASSWORD replace the fields of the first
// user in the pool, creating it if the pool is empty. TEST_USER_EMAIL adds
// a user with TEST_USER_PASSWORD and TEST_USER_NAME, unless a user with
// that email is already in the pool; without TEST_USER_PASSWORD it shares
// VALID_USER_PASSWORD. Empty values are ignored.
func (c *TestConfig) ApplyEnv(lookup LookupFunc) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return v
	}

	email, password := get(EnvValidUserEmail), get(EnvValidUserPassword)
	if email != "" || password != "" {
		if len(c.Users) == 0 {
			c.Users = append(c.Users, performance.User{})
		}
		if email != "" {
			c.Users[0].Email = email
		}
		if password != "" {
			c.Users[0].Password = password
		}
	}

	testEmail := get(EnvTestUserEmail)
	if testEmail == "" {
		return
	}
	for i := range c.Users {
		if c.Users[i].Email == testEmail {
			if p := get(EnvTestUserPassword); p != "" {
				c.Users[i].Password = p
			}
			if n := get(EnvTestUserName); n != "" {
				c.Users[i].Name = n
			}
			return
		}
	}
	testPassword := get(EnvTestUserPassword)
	if testPassword == "" {
		testPassword = password
	}
	c.Users = append(c.Users, performance.User{
		Email:    testEmail,
		Password: testPassword,
		Name:     get(EnvTestUserName),
	})
}
