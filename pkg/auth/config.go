package auth

import "time"

type Config struct {
	SecretKey string        `env:"JWT_SECRET_KEY"`
	Issuer    string        `env:"JWT_ISSUER"`
	Leeway    time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
}
