package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks replace viper's default decode hooks, so the defaults (durations and comma separated
// slices) are composed back in alongside ours.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		PercentageDecodeHook(),
	)),
}

// Percentage is a proportion in [0, 1]. It decodes from either a float ("0.25") or a
// percentage string ("25%").
type Percentage float64

func PercentageDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(Percentage(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		if len(s) > 0 && s[len(s)-1] == '%' {
			v, err := strconv.ParseFloat(s[:len(s)-1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid percentage %q: %w", s, err)
			}
			return Percentage(v / 100), nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid proportion %q: %w", s, err)
		}
		return Percentage(v), nil
	}
}
