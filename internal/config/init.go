package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

// defaultConfig mirrors the plugin set of the blog this engine was built for.
const defaultConfig = `version: "1"

site:
  title: leah.world
  author: Leah Loughran
  description: Leah's blog
  site_url: https://leah.world

build:
  output_dir: public
  cache_dir: .cache
  cache_backend: fs
  workers: 0
  max_iterations: 10
  missing_role: fatal

plugins:
  - resolve: source-filesystem
    options:
      name: pages
      path: src/pages
  - resolve: transformer-remark
    options:
      plugins:
        - resolve: remark-images
          options:
            max_width: 590
        - resolve: remark-responsive-iframe
          options:
            wrapper_style: "margin-bottom: 1.0725rem"
        - remark-prismjs
        - remark-copy-linked-files
        - remark-smartypants
  - transformer-sharp
  - plugin-sharp
  - create-pages
  - plugin-feed
  - plugin-offline
`

// Default returns the parsed default configuration.
func Default() (*Config, error) {
	return Parse(strings.NewReader(defaultConfig))
}

// Init writes the default configuration to path. An existing file is only
// replaced when force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).Build()
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat configuration file").
			WithContext("path", path).Fatal().Build()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create configuration directory").
				WithContext("path", dir).Fatal().Build()
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write configuration file").
			WithContext("path", path).Fatal().Build()
	}
	return nil
}
