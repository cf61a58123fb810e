package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"berza/internal/market"
	"berza/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// seedDrink 是初始酒单里的一行。
type seedDrink struct {
	name    string
	base    float64
	clipURL string
}

var defaultCatalog = []seedDrink{
	{name: "Margarita", base: 10.00, clipURL: "/static/clips/margarita.mp4"},
	{name: "Mojito", base: 9.50, clipURL: "/static/clips/mojito.mp4"},
	{name: "Old Fashioned", base: 12.00, clipURL: "/static/clips/old_fashioned.mp4"},
}

// promoTriggerRatio 是触发促销的价格相对基准价的倍率。
const promoTriggerRatio = 1.25

// Seed 初始化酒单、促销候选与员工账号，重复执行是幂等的。
//
// 价格上下限从基准价按配置倍率推导，并吸附到舍入步长的
// 网格上，保证 Tick 的先夹取后舍入不会越界。
func (s *Server) Seed(ctx context.Context) error {
	step := s.cfg.App.PriceRoundStep

	for pos, item := range defaultCatalog {
		var drink model.Drink
		err := s.db.WithContext(ctx).Where("name = ?", item.name).First(&drink).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			drink = model.Drink{
				Name:          item.name,
				BasePrice:     item.base,
				CurrentPrice:  item.base,
				PreviousPrice: item.base,
				MinPrice:      market.RoundTo(item.base*s.cfg.App.PriceFloorRatio, step),
				MaxPrice:      market.RoundTo(item.base*s.cfg.App.PriceCapRatio, step),
			}
			if err := s.db.WithContext(ctx).Create(&drink).Error; err != nil {
				return err
			}
			s.logger.Info("drink seeded",
				slog.String("name", drink.Name),
				slog.Float64("base", drink.BasePrice))
		}

		var candidate model.PromoCandidate
		err = s.db.WithContext(ctx).Where("drink_id = ?", drink.ID).First(&candidate).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			candidate = model.PromoCandidate{
				DrinkID:      drink.ID,
				ClipURL:      item.clipURL,
				TriggerPrice: market.RoundTo(item.base*promoTriggerRatio, step),
				Position:     pos,
				Enabled:      true,
			}
			if err := s.db.WithContext(ctx).Create(&candidate).Error; err != nil {
				return err
			}
		}
	}

	return s.seedStaff(ctx)
}

// seedStaff 保证至少有一个吧台账号可以登录。
func (s *Server) seedStaff(ctx context.Context) error {
	password := strings.TrimSpace(s.cfg.Security.StaffPassword)
	if password == "" {
		s.logger.Warn("staff password not configured, skip staff seeding")
		return nil
	}

	const username = "bartender"
	var staff model.Staff
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&staff).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	staff = model.Staff{
		Username: username,
		Password: string(hash),
		Role:     "bartender",
	}
	if err := s.db.WithContext(ctx).Create(&staff).Error; err != nil {
		return err
	}
	s.logger.Info("staff account seeded", slog.String("username", username))
	return nil
}
