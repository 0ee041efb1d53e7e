package dialect

// common registers the functions every built-in dialect renders the same
// way.
func common() *Registry {
	r := NewRegistry()
	r.Register("lower", Func{Name: "LOWER", Min: 1, Max: 1})
	r.Register("upper", Func{Name: "UPPER", Min: 1, Max: 1})
	r.Register("abs", Func{Name: "ABS", Min: 1, Max: 1})
	r.Register("round", Func{Name: "ROUND", Min: 1, Max: 2})
	r.Register("coalesce", Func{Name: "COALESCE", Min: 2, Max: -1})
	r.Register("replace", Func{Name: "REPLACE", Min: 3, Max: 3})
	r.Register("trim", Func{Name: "TRIM", Min: 1, Max: 1})
	r.Register("ltrim", Func{Name: "LTRIM", Min: 1, Max: 1})
	r.Register("rtrim", Func{Name: "RTRIM", Min: 1, Max: 1})
	r.Register("floor", Func{Name: "FLOOR", Min: 1, Max: 1})
	r.Register("ceiling", Func{Name: "CEILING", Min: 1, Max: 1})
	r.Register("substring", NewTemplate("SUBSTR(?1, ?2 + 1)", "SUBSTR(?1, ?2 + 1, ?3)"))
	r.Register("length", Func{Name: "LENGTH", Min: 1, Max: 1})
	return r
}

func postgresFunctions() *Registry {
	r := common()
	r.Register("now", Func{Name: "NOW", Min: 0, Max: 0})
	r.Register("locate", NewTemplate("(STRPOS(?1, ?2) - 1)"))
	r.Register("datepart", DatePart{Arity: 2, Parts: map[string]string{
		"year":   "CAST(DATE_PART('year', ?2) AS INTEGER)",
		"month":  "CAST(DATE_PART('month', ?2) AS INTEGER)",
		"day":    "CAST(DATE_PART('day', ?2) AS INTEGER)",
		"hour":   "CAST(DATE_PART('hour', ?2) AS INTEGER)",
		"minute": "CAST(DATE_PART('minute', ?2) AS INTEGER)",
		"second": "CAST(DATE_PART('second', ?2) AS INTEGER)",
	}})
	r.Register("datediff", DatePart{Arity: 3, Parts: map[string]string{
		"day":    "CAST(DATE_PART('day', ?3 - ?2) AS INTEGER)",
		"hour":   "CAST(EXTRACT(EPOCH FROM ?3 - ?2) / 3600 AS INTEGER)",
		"minute": "CAST(EXTRACT(EPOCH FROM ?3 - ?2) / 60 AS INTEGER)",
		"second": "CAST(EXTRACT(EPOCH FROM ?3 - ?2) AS INTEGER)",
	}})
	return r
}

func mysqlFunctions() *Registry {
	r := common()
	r.Register("now", Func{Name: "NOW", Min: 0, Max: 0})
	r.Register("length", Func{Name: "CHAR_LENGTH", Min: 1, Max: 1})
	r.Register("locate", NewTemplate("(LOCATE(?2, ?1) - 1)", "(LOCATE(?2, ?1, ?3 + 1) - 1)"))
	r.Register("datepart", DatePart{Arity: 2, Parts: map[string]string{
		"year":   "EXTRACT(YEAR FROM ?2)",
		"month":  "EXTRACT(MONTH FROM ?2)",
		"day":    "EXTRACT(DAY FROM ?2)",
		"hour":   "EXTRACT(HOUR FROM ?2)",
		"minute": "EXTRACT(MINUTE FROM ?2)",
		"second": "EXTRACT(SECOND FROM ?2)",
	}})
	r.Register("datediff", DatePart{Arity: 3, Parts: map[string]string{
		"year":   "TIMESTAMPDIFF(YEAR, ?2, ?3)",
		"month":  "TIMESTAMPDIFF(MONTH, ?2, ?3)",
		"day":    "DATEDIFF(?3, ?2)",
		"hour":   "TIMESTAMPDIFF(HOUR, ?2, ?3)",
		"minute": "TIMESTAMPDIFF(MINUTE, ?2, ?3)",
		"second": "TIMESTAMPDIFF(SECOND, ?2, ?3)",
	}})
	return r
}

func sqliteFunctions() *Registry {
	r := common()
	r.Register("now", NewTemplate("CURRENT_TIMESTAMP"))
	r.Register("ceiling", NotSupported{Reason: "no CEILING in the core library"})
	r.Register("floor", NotSupported{Reason: "no FLOOR in the core library"})
	r.Register("locate", NewTemplate("(INSTR(?1, ?2) - 1)"))
	r.Register("datepart", DatePart{Arity: 2, Parts: map[string]string{
		"year":   "CAST(STRFTIME('%Y', ?2) AS INTEGER)",
		"month":  "CAST(STRFTIME('%m', ?2) AS INTEGER)",
		"day":    "CAST(STRFTIME('%d', ?2) AS INTEGER)",
		"hour":   "CAST(STRFTIME('%H', ?2) AS INTEGER)",
		"minute": "CAST(STRFTIME('%M', ?2) AS INTEGER)",
		"second": "CAST(STRFTIME('%S', ?2) AS INTEGER)",
	}})
	r.Register("datediff", DatePart{Arity: 3, Parts: map[string]string{
		"day":    "CAST(JULIANDAY(?3) - JULIANDAY(?2) AS INTEGER)",
		"hour":   "CAST((JULIANDAY(?3) - JULIANDAY(?2)) * 24 AS INTEGER)",
		"minute": "CAST((JULIANDAY(?3) - JULIANDAY(?2)) * 1440 AS INTEGER)",
		"second": "CAST((JULIANDAY(?3) - JULIANDAY(?2)) * 86400 AS INTEGER)",
	}})
	return r
}

func sqlServerFunctions() *Registry {
	r := common()
	r.Register("now", Func{Name: "GETDATE", Min: 0, Max: 0})
	r.Register("length", Func{Name: "LEN", Min: 1, Max: 1})
	r.Register("trim", NewTemplate("LTRIM(RTRIM(?1))"))
	r.Register("substring", NewTemplate("SUBSTRING(?1, ?2 + 1, LEN(?1))", "SUBSTRING(?1, ?2 + 1, ?3)"))
	r.Register("locate", NewTemplate("(CHARINDEX(?2, ?1) - 1)", "(CHARINDEX(?2, ?1, ?3 + 1) - 1)"))
	parts := []string{"year", "month", "day", "hour", "minute", "second"}
	datepart := DatePart{Arity: 2, Parts: map[string]string{}}
	datediff := DatePart{Arity: 3, Parts: map[string]string{}}
	for _, p := range parts {
		datepart.Parts[p] = "DATEPART(" + p + ", ?2)"
		datediff.Parts[p] = "DATEDIFF(" + p + ", ?2, ?3)"
	}
	r.Register("datepart", datepart)
	r.Register("datediff", datediff)
	return r
}

func oracleFunctions() *Registry {
	r := common()
	r.Register("now", NewTemplate("SYSTIMESTAMP"))
	r.Register("ceiling", Func{Name: "CEIL", Min: 1, Max: 1})
	r.Register("locate", NewTemplate("(INSTR(?1, ?2) - 1)", "(INSTR(?1, ?2, ?3 + 1) - 1)"))
	r.Register("tochar", Func{Name: "TO_CHAR", Min: 1, Max: 2})
	r.Register("tonumber", Func{Name: "TO_NUMBER", Min: 1, Max: 2})
	r.Register("todate", Func{Name: "TO_DATE", Min: 1, Max: 2})
	r.Register("datepart", DatePart{Arity: 2, Parts: map[string]string{
		"year":   "EXTRACT(YEAR FROM ?2)",
		"month":  "EXTRACT(MONTH FROM ?2)",
		"day":    "EXTRACT(DAY FROM ?2)",
		"hour":   "EXTRACT(HOUR FROM CAST(?2 AS TIMESTAMP))",
		"minute": "EXTRACT(MINUTE FROM CAST(?2 AS TIMESTAMP))",
		"second": "EXTRACT(SECOND FROM CAST(?2 AS TIMESTAMP))",
	}})
	r.Register("datediff", DatePart{Arity: 3, Parts: map[string]string{
		"day":  "TRUNC(CAST(?3 AS DATE) - CAST(?2 AS DATE))",
		"hour": "TRUNC((CAST(?3 AS DATE) - CAST(?2 AS DATE)) * 24)",
	}})
	return r
}
