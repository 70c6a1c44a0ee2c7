// Package harness runs compliance scenarios: YAML files that describe
// invoices and the verdict a ruleset must reach for each of them.
//
// # Scenario Format
//
//	name: de_small_amount
//	description: "Small-amount invoices only need the reduced feature set"
//	ruleset: DE_USTG
//	ruleset_dirs:
//	  - ../rulesets
//	invoices:
//	  - name: coffee_receipt
//	    gross_amount: "119.00"
//	    values:
//	      supplier_name_address: "Café Beispiel, Hauptstr. 1, Berlin"
//	    facts:
//	      tax_exempt: false
//	    expect:
//	      small_amount: true
//	      status: NON_COMPLIANT
//	      missing: [invoice_date]
//
// ruleset_dirs are resolved relative to the scenario file and add authored
// rulesets to the built-in catalog. Every expect field is optional; list
// fields compare as sets of feature ids.
//
// # Golden Reports
//
// RunWithGolden renders every report of a scenario as canonical JSON and
// compares it against testdata/golden/<name>.golden. Reports carry no
// timestamps or generated ids, so the output is stable across runs.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
package harness
