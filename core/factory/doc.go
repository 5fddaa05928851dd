// Package factory builds pluggable modules, such as metrics sinks and
// journal stores, from a type name plus a raw settings map. The settings
// are decoded with json tags, so env overrides given as strings still
// populate numeric and duration fields.
//
//	var stores = factory.NewRegistry[Store]()
//	stores.Register("sqlite", func(conf map[string]any) (Store, error) {
//		var c struct{ Path string `json:"path"` }
//		if err := factory.Decode(conf, &c); err != nil {
//			return nil, err
//		}
//		return NewSQLiteStore(c.Path)
//	})
//	st, err := stores.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "run.db"}})
package factory
