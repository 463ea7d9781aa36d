package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/wire"
	"z-novel-setting-api/pkg/utils"
)

const devTokenTTL = 24 * time.Hour

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting setting service bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化数据层（仅 PostgreSQL）
	dataLayer, cleanup, err := wire.InitializeBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 建表
	if err := dataLayer.PgClient.AutoMigrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Schema migrated.")

	// 4. 为开发用户充值
	userID := os.Getenv("BOOTSTRAP_USER_ID")
	if userID == "" {
		fmt.Println("BOOTSTRAP_USER_ID not set, skip credit grant.")
		fmt.Println("Bootstrap completed successfully.")
		return
	}

	credits := int64(1000)
	if raw := os.Getenv("BOOTSTRAP_CREDITS"); raw != "" {
		credits, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || credits <= 0 {
			log.Fatalf("invalid BOOTSTRAP_CREDITS: %q", raw)
		}
	}

	var balance int64
	err = dataLayer.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := dataLayer.CreditRepo.Grant(ctx, userID, credits); err != nil {
			return err
		}
		account, err := dataLayer.CreditRepo.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("credit account for %s missing after grant", userID)
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		log.Fatalf("failed to grant credits: %v", err)
	}
	fmt.Printf("Granted %d credits to %s, balance %d.\n", credits, userID, balance)

	// 5. 签发开发令牌
	if cfg.Security.JWT.Enabled {
		token, err := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer).GenerateToken(userID, devTokenTTL)
		if err != nil {
			log.Fatalf("failed to sign dev token: %v", err)
		}
		fmt.Printf("Dev access token (valid %s):\n%s\n", devTokenTTL, token)
	}

	fmt.Println("Bootstrap completed successfully.")
}
