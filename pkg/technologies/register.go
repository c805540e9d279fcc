package technologies

import (
	"github.com/hashicorp/go-multierror"

	"github.com/arzzra/soft_bridge/pkg/bridge"
)

// All возвращает новые экземпляры встроенных технологий
func All() []bridge.Technology {
	return []bridge.Technology{NewSimple(), NewMultiMix(), NewHolding()}
}

// Register регистрирует встроенные технологии в реестре.
// Ошибки регистрации отдельных технологий собираются в одну.
func Register(r *bridge.Registry) error {
	var result *multierror.Error
	for _, t := range All() {
		if err := r.RegisterTechnology(t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
