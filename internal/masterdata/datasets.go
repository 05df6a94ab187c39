package masterdata

var recordPaths = []string{"data", "data.data", "data.attributes", ""}

// DefaultDatasets returns the reference endpoints the terminal mirrors.
func DefaultDatasets() []Dataset {
	return []Dataset{
		{
			Name:       "settings",
			Endpoint:   "/settings",
			SettingKey: "settings",
			Paths:      []string{"data.attributes", "data", "settings", ""},
		},
		{
			Name:       "front-setting",
			Endpoint:   "/front-setting",
			SettingKey: "front_setting",
			Paths:      []string{"data.value", "data.attributes", "data", ""},
		},
		{
			Name:       "config",
			Endpoint:   "/config",
			SettingKey: "config",
			Paths:      []string{"data.attributes", "data", "config", ""},
		},
		{
			Name:     "countries",
			Endpoint: "/countries",
			Table:    "countries",
			Paths:    append([]string{"countries", "data.countries"}, recordPaths...),
			Columns: []Column{
				{Name: "name", Fields: []string{"name"}},
				{Name: "short_code", Fields: []string{"short_code", "code", "iso2"}},
			},
		},
		{
			Name:     "warehouses",
			Endpoint: "/warehouses",
			Table:    "warehouses",
			Paths:    recordPaths,
			Columns: []Column{
				{Name: "name", Fields: []string{"name"}},
				{Name: "phone", Fields: []string{"phone"}},
				{Name: "country", Fields: []string{"country"}},
				{Name: "city", Fields: []string{"city"}},
				{Name: "email", Fields: []string{"email"}},
				{Name: "zip_code", Fields: []string{"zip_code", "zip"}},
			},
			Defaults: []Item{{ID: "1", Fields: map[string]string{"name": "Default Warehouse"}}},
		},
		{
			Name:     "product-categories",
			Endpoint: "/product-categories",
			Table:    "product_categories",
			Paths:    recordPaths,
			Columns: []Column{
				{Name: "name", Fields: []string{"name"}},
				{Name: "image", Fields: []string{"image", "image_url"}},
			},
		},
		{
			Name:     "payment-methods",
			Endpoint: "/get-business-payment-methods",
			Table:    "payment_methods",
			Paths:    append([]string{"data.payment_methods", "payment_methods"}, recordPaths...),
			Columns: []Column{
				{Name: "name", Fields: []string{"name", "title"}},
			},
			Defaults: []Item{{ID: "1", Fields: map[string]string{"name": "Cash"}}},
		},
		{
			Name:     "units",
			Endpoint: "/units",
			Table:    "units",
			Paths:    recordPaths,
			Columns: []Column{
				{Name: "name", Fields: []string{"name"}},
				{Name: "short_name", Fields: []string{"short_name"}},
				{Name: "base_unit", Fields: []string{"base_unit"}},
			},
			Defaults: []Item{{ID: "1", Fields: map[string]string{"name": "Piece", "short_name": "pc"}}},
		},
	}
}
