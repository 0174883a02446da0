package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// RenderDefaultTOML renders a TOML config with defaults from GetConfigOptions.
func RenderDefaultTOML() string {
	var b strings.Builder
	b.WriteString("# localrmi configuration (TOML)\n\n")
	renderOptions(&b, GetConfigOptions(), func(o ConfigOption) any { return o.Default })
	return b.String()
}

// RenderEffectiveTOML renders the values v resolved for every known option.
func RenderEffectiveTOML(v *viper.Viper) string {
	var b strings.Builder
	if f := v.ConfigFileUsed(); f != "" {
		b.WriteString("# loaded from " + f + "\n\n")
	}
	renderOptions(&b, GetConfigOptions(), func(o ConfigOption) any {
		switch o.Default.(type) {
		case []int:
			return v.GetIntSlice(o.Key)
		case int:
			return v.GetInt(o.Key)
		case bool:
			return v.GetBool(o.Key)
		}
		return v.GetString(o.Key)
	})
	return b.String()
}

// WriteDefault writes the default config to path unless a file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(RenderDefaultTOML()), 0o644)
}

func renderOptions(b *strings.Builder, opts []ConfigOption, value func(ConfigOption) any) {
	topLevel := make([]ConfigOption, 0, len(opts))
	sections := make(map[string][]ConfigOption)
	sectionOrder := make([]string, 0)

	for _, o := range opts {
		o.Default = value(o)
		if !strings.Contains(o.Key, ".") {
			topLevel = append(topLevel, o)
			continue
		}
		parts := strings.SplitN(o.Key, ".", 2)
		section := parts[0]
		if _, ok := sections[section]; !ok {
			sectionOrder = append(sectionOrder, section)
		}
		o.Key = parts[1]
		sections[section] = append(sections[section], o)
	}

	for _, o := range topLevel {
		writeTOMLOption(b, o.Key, o.Default, o.Comment)
	}
	for _, section := range sectionOrder {
		b.WriteString("[" + section + "]\n")
		for _, o := range sections[section] {
			writeTOMLOption(b, o.Key, o.Default, o.Comment)
		}
	}
}

func writeTOMLOption(b *strings.Builder, key string, value any, comment string) {
	if comment != "" {
		b.WriteString("# " + comment + "\n")
	}
	switch v := value.(type) {
	case string:
		fmt.Fprintf(b, "%s = %q\n\n", key, v)
	case bool, int, int64, float64:
		fmt.Fprintf(b, "%s = %v\n\n", key, v)
	case []int:
		items := make([]string, len(v))
		for i, n := range v {
			items[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(b, "%s = [%s]\n\n", key, strings.Join(items, ", "))
	case []string:
		items := append([]string(nil), v...)
		sort.Strings(items)
		for i, s := range items {
			items[i] = fmt.Sprintf("%q", s)
		}
		fmt.Fprintf(b, "%s = [%s]\n\n", key, strings.Join(items, ", "))
	}
}
