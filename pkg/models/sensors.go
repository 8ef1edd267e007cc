package models

// Sensor describes how a snapshot key is presented to Home Assistant
type Sensor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
}

// Sensors lists the published snapshot keys with their presentation metadata
var Sensors = []Sensor{
	{KeyConsumptionToday, "Verbrauch Heute", "kWh", "energy", "total_increasing", "mdi:flash"},
	{KeyConsumptionYesterday, "Verbrauch Gestern", "kWh", "energy", "total", "mdi:flash"},
	{KeyConsumptionMonth, "Verbrauch Dieser Monat", "kWh", "energy", "total_increasing", "mdi:calendar-month"},
	{KeyConsumptionLastMonth, "Verbrauch Letzter Monat", "kWh", "energy", "total", "mdi:calendar-month-outline"},
	{KeyAvgDaily, "Durchschnitt pro Tag", "kWh", "energy", "measurement", "mdi:chart-line"},
	{KeyCostToday, "Kosten Heute", "EUR", "monetary", "total_increasing", "mdi:currency-eur"},
	{KeyCostYesterday, "Kosten Gestern", "EUR", "monetary", "total", "mdi:currency-eur"},
	{KeyCostMonth, "Kosten Dieser Monat", "EUR", "monetary", "total_increasing", "mdi:cash"},
	{KeyCostLastMonth, "Kosten Letzter Monat", "EUR", "monetary", "total", "mdi:cash"},
	{KeyLastReading, "Letzter Messwert", "kWh", "energy", "measurement", "mdi:gauge"},
}
