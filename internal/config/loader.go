package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-ini/ini"
)

// Name is the name of the configuration file.
const Name = ".zipsniper"

// Loader can be used for loading .zipsniper configuration as well as overridden with default settings.
type Loader struct {
	// Profile is the AWS profile to use, taking precedence over bucket-based AWS profile setting.
	Profile string

	cfg           *ini.File
	s3clientCache sync.Map
}

// Load will traverse the directory hierarchy upwards from the working directory to find the first ".zipsniper" file
// available and load its contents into the Loader.
//
// The name of the .zipsniper file is returned. If there is no such file, an empty name and nil error are returned.
func (l *Loader) Load(ctx context.Context) (string, error) {
	cur, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return l.LoadFrom(ctx, cur)
}

// LoadFrom is a variant of Load that starts the search from the given directory.
func (l *Loader) LoadFrom(ctx context.Context, dir string) (string, error) {
	var (
		path string
		fi   os.FileInfo
		err  error
	)

	for cur := dir; ; {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		path = filepath.Join(cur, Name)
		if fi, err = os.Stat(path); err == nil && !fi.IsDir() {
			break
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(cur)
		if parent == cur || parent == "." {
			if l.cfg == nil {
				l.cfg = ini.Empty()
			}

			return "", nil
		}

		cur = parent
	}

	l.cfg, err = ini.Load(path)
	if err != nil {
		l.cfg = ini.Empty()
		return path, err
	}

	return path, nil
}

// LoadProfile is a convenient method to set Loader.Profile then call Load.
func (l *Loader) LoadProfile(ctx context.Context, profile string) (string, error) {
	l.Profile = profile
	return l.Load(ctx)
}

// DefaultLoader is the default Loader instance for package-level methods.
var DefaultLoader = &Loader{cfg: ini.Empty()}

// Load calls Loader.Load on the DefaultLoader instance.
func Load(ctx context.Context) (string, error) {
	return DefaultLoader.Load(ctx)
}

// LoadProfile calls Loader.LoadProfile on the DefaultLoader instance.
func LoadProfile(ctx context.Context, profile string) (string, error) {
	return DefaultLoader.LoadProfile(ctx, profile)
}
