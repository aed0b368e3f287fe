package runner

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"breakout_bot/internal/models"
)

// Config параметры процессора, общие для всех аккаунтов.
type Config struct {
	MaxConsecutiveFaults int           `yaml:"max_consecutive_faults" default:"10" validate:"gte=1"`
	RestartWait          time.Duration `yaml:"restart_wait" default:"5s" validate:"gt=0"`
	StepTimeout          time.Duration `yaml:"step_timeout" default:"30s" validate:"gt=0"`
}

var validate = validator.New()

// ResolveConfig база + overrides аккаунта. Вызывается один раз при сборке процессора,
// неизвестные ключи в overrides считаются ошибкой.
func ResolveConfig(desc models.AccountDescriptor, base models.StrategyConfig) (models.AccountConfig, error) {
	if err := validate.Struct(desc); err != nil {
		return models.AccountConfig{}, fmt.Errorf("%w: account: %v", ErrInvalidConfig, err)
	}

	strategy := base
	if len(desc.Overrides) > 0 {
		raw, err := yaml.Marshal(base)
		if err != nil {
			return models.AccountConfig{}, fmt.Errorf("marshal base strategy: %w", err)
		}
		merged := map[interface{}]interface{}{}
		if err := yaml.Unmarshal(raw, &merged); err != nil {
			return models.AccountConfig{}, fmt.Errorf("unmarshal base strategy: %w", err)
		}
		mergeInto(merged, desc.Overrides)

		raw, err = yaml.Marshal(merged)
		if err != nil {
			return models.AccountConfig{}, fmt.Errorf("marshal merged strategy: %w", err)
		}
		strategy = models.StrategyConfig{}
		if err := yaml.UnmarshalStrict(raw, &strategy); err != nil {
			return models.AccountConfig{}, fmt.Errorf("%w: %s overrides: %v", ErrInvalidConfig, desc.ID, err)
		}
	}

	if err := validate.Struct(strategy); err != nil {
		return models.AccountConfig{}, fmt.Errorf("%w: %s strategy: %v", ErrInvalidConfig, desc.ID, err)
	}
	return models.AccountConfig{Account: desc, Strategy: strategy}, nil
}

// mergeInto рекурсивно накладывает src на dst. Вложенные карты сливаются, остальное заменяется.
func mergeInto(dst map[interface{}]interface{}, src map[string]any) {
	for k, v := range src {
		nested, ok := asMap(v)
		if !ok {
			dst[k] = v
			continue
		}
		cur, ok := dst[k].(map[interface{}]interface{})
		if !ok {
			cur = map[interface{}]interface{}{}
		}
		mergeInto(cur, nested)
		dst[k] = cur
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
