// authctl opera el servicio de cuentas directamente contra la base de datos.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"account-auth/internal/config"
	"account-auth/internal/db"
	"account-auth/internal/notify"
	"account-auth/internal/repository"
	"account-auth/internal/service"
	"account-auth/internal/validation"
)

const usage = `uso: authctl <comando> [flags]

comandos:
  migrate                          aplica las migraciones pendientes
  register -email E [-password P]  registra una cuenta (PENDING_VERIFICATION)
  login    -email E [-password P]  valida credenciales e imprime el JWT
  verify   -token T                consume un token de verificacion
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return withPool(ctx, func(pool *pgxpool.Pool, _ *config.Config, _ *zap.Logger) error {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Migraciones aplicadas.")
			return nil
		})
	case "register", "login":
		creds, err := parseCredentials(cmd, rest, stdin)
		if err != nil {
			return err
		}
		if err := validateCredentials(cmd, creds); err != nil {
			return err
		}
		return withAuthService(ctx, func(svc *service.AuthService) error {
			if cmd == "register" {
				if err := svc.Register(ctx, service.RegisterInput{EmailAddress: creds.email, Password: creds.password}); err != nil {
					return describe(err)
				}
				fmt.Fprintln(stdout, "User registered successfully.")
				return nil
			}
			token, err := svc.Login(ctx, creds.email, creds.password)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(stdout, token)
			return nil
		})
	case "verify":
		token, err := parseToken(rest)
		if err != nil {
			return err
		}
		return withAuthService(ctx, func(svc *service.AuthService) error {
			if err := svc.VerifyEmail(ctx, token); err != nil {
				return describe(err)
			}
			fmt.Fprintln(stdout, "Your email address has been successfully verified. You can now log in.")
			return nil
		})
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: comando desconocido %q", errUsage, cmd)
	}
}

type credentials struct {
	email    string
	password string
}

func parseCredentials(cmd string, args []string, stdin io.Reader) (credentials, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "email de la cuenta")
	password := fs.String("password", "", "contraseña; si falta se lee de stdin")
	if err := fs.Parse(args); err != nil {
		return credentials{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*email) == "" {
		return credentials{}, fmt.Errorf("%w: -email es obligatorio", errUsage)
	}

	creds := credentials{email: strings.TrimSpace(*email), password: *password}
	if creds.password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return credentials{}, fmt.Errorf("leer contraseña: %w", err)
		}
		creds.password = strings.TrimRight(line, "\r\n")
	}
	return creds, nil
}

func validateCredentials(cmd string, creds credentials) error {
	type registerForm struct {
		EmailAddress string `json:"emailAddress" label:"Email address" validate:"notblank,account_email"`
		Password     string `json:"password" label:"Password" validate:"notblank,strong_password"`
	}
	type loginForm struct {
		EmailAddress string `json:"emailAddress" label:"Email address" validate:"notblank,login_email"`
		Password     string `json:"password" label:"Password" validate:"notblank"`
	}
	if cmd == "register" {
		return validation.ValidateStruct(registerForm{EmailAddress: creds.email, Password: creds.password})
	}
	return validation.ValidateStruct(loginForm{EmailAddress: creds.email, Password: creds.password})
}

func parseToken(args []string) (string, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "token de verificacion")
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*token) == "" {
		return "", fmt.Errorf("%w: -token es obligatorio", errUsage)
	}
	return *token, nil
}

func describe(err error) error {
	switch {
	case errors.Is(err, service.ErrAlreadyExists):
		return errors.New("Email is already used.")
	case errors.Is(err, service.ErrNotFound):
		return errors.New("invalid email or password.")
	case errors.Is(err, service.ErrSuspended):
		return errors.New("Your account is suspended. Please contact Administrator")
	case errors.Is(err, service.ErrNotVerified):
		return errors.New("Your account is not verified. Please check your email.")
	case errors.Is(err, service.ErrTokenExpired):
		return errors.New("Verification token has expired.")
	case errors.Is(err, service.ErrInvalidToken):
		return errors.New("invalid or expired verification token.")
	}
	return err
}

func withPool(ctx context.Context, fn func(*pgxpool.Pool, *config.Config, *zap.Logger) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := newCLILogger()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool, cfg, logger)
}

// newCLILogger usa el encoder de ejemplo de zap: salida legible, sin timestamps.
func newCLILogger() *zap.Logger {
	return zap.NewExample()
}

func withAuthService(ctx context.Context, fn func(*service.AuthService) error) error {
	return withPool(ctx, func(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) error {
		var publisher notify.VerificationPublisher = notify.NewDisabledPublisher("AMQP_URL not configured")
		if cfg.AMQPURL != "" {
			p, err := notify.NewAMQPPublisher(cfg.AMQPURL, notify.Topology{
				Exchange:   cfg.AMQPExchange,
				Queue:      cfg.AMQPQueue,
				RoutingKey: cfg.AMQPRoutingKey,
			}, cfg.AMQPPublishTimeout(), logger)
			if err != nil {
				logger.Warn("amqp publisher init failed", zap.Error(err))
			} else {
				defer p.Close()
				publisher = p
			}
		}
		svc := service.NewAuthService(logger,
			repository.NewPgAccountRepository(pool),
			service.NewBcryptHasher(cfg.BcryptCost),
			service.NewJWTService(cfg.JWTSecret, cfg.JWTTTL(), cfg.JWTIssuer),
			publisher,
			service.WithVerificationTTL(cfg.VerificationTTL()),
			service.WithMaskAccountState(cfg.MaskAccountState),
		)
		return fn(svc)
	})
}
