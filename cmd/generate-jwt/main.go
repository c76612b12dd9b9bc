package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"credit-backend/internal/middleware"

	"github.com/sirupsen/logrus"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret, defaults to $JWT_SECRET")
	issuer := flag.String("issuer", "credit-backend", "token issuer, must match auth.issuer")
	service := flag.String("service", "training-orchestrator", "calling service name")
	scopes := flag.String("scopes", "", "comma separated scopes, e.g. admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	auth, err := middleware.NewAuthMiddleware(*secret, *issuer, logrus.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var scopeList []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopeList = append(scopeList, s)
		}
	}

	token, err := auth.GenerateToken(*service, scopeList, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  Service: %s\n", *service)
	fmt.Printf("  Scopes:  %s\n", strings.Join(scopeList, ","))
	fmt.Printf("  Expires: %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/wallets/<address>/balance\n", token)
}
