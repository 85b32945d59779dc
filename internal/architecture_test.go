package internal

import (
	"testing"

	"github.com/kcmvp/archunit"
)

func TestArchitecture(t *testing.T) {
	hue := archunit.Packages("hue", []string{".../internal/hue"})
	core := archunit.Packages("core", []string{".../internal/hue", ".../internal/pairing", ".../internal/discovery"})
	mutation := archunit.Packages("mutation", []string{".../internal/apply", ".../internal/script"})
	storage := archunit.Packages("storage", []string{".../internal/db", ".../internal/ledger"})
	configuration := archunit.Packages("config", []string{".../internal/config"})
	application := archunit.Packages("app", []string{".../internal/app"})

	check := func(rule string, err error) {
		if err != nil {
			t.Errorf("Architecture violation: %s: %v", rule, err)
		}
	}

	// The protocol layer takes everything it needs as explicit arguments.
	check("core must not depend on config", core.ShouldNotReferLayers(configuration))
	check("core must not depend on storage", core.ShouldNotReferLayers(storage))
	check("core must not depend on app", core.ShouldNotReferLayers(application))
	check("core must not depend on apply/script", core.ShouldNotReferLayers(mutation))

	// Batch updates and scripts report outcomes; persisting them is the app's job.
	check("apply/script must not depend on config", mutation.ShouldNotReferLayers(configuration))
	check("apply/script must not depend on storage", mutation.ShouldNotReferLayers(storage))
	check("apply/script must not depend on app", mutation.ShouldNotReferLayers(application))

	check("storage must not depend on hue", storage.ShouldNotReferLayers(hue))
	check("storage must not depend on app", storage.ShouldNotReferLayers(application))
}

func TestLayersPresent(t *testing.T) {
	for _, pattern := range []string{".../internal/hue", ".../internal/pairing", ".../internal/discovery"} {
		if len(archunit.Packages(pattern, []string{pattern}).Packages()) == 0 {
			t.Errorf("no package matches %s", pattern)
		}
	}
}
