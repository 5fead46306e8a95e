package triage

// Critical symptoms that require immediate evaluation.
var immediateRedFlags = []string{
	"severe chest pain",
	"crushing chest pain",
	"chest pain radiating to arm",
	"chest pain radiating to jaw",
	"sudden severe headache",
	"worst headache of life",
	"syncope",
	"loss of consciousness",
	"uncontrolled bleeding",
	"severe bleeding",
	"hemoptysis",
	"coughing up blood",
	"severe shortness of breath",
	"difficulty breathing",
	"unable to breathe",
	"stroke symptoms",
	"facial drooping",
	"slurred speech",
	"sudden weakness",
	"severe allergic reaction",
	"anaphylaxis",
	"throat swelling",
	"severe abdominal pain",
	"rigid abdomen",
	"suicidal thoughts",
	"suicide",
	"self harm",
	"seizure",
	"convulsion",
}

// Urgent symptoms that need prompt evaluation within hours.
var urgentFlags = []string{
	"chest pain",
	"chest discomfort",
	"shortness of breath",
	"difficulty breathing on exertion",
	"persistent fever",
	"high fever",
	"severe pain",
	"sudden vision loss",
	"sudden hearing loss",
	"severe headache",
	"persistent vomiting",
	"severe diarrhea",
	"blood in stool",
	"blood in urine",
	"severe dizziness",
	"confusion",
	"altered mental status",
}

// ComboRule fires when at least Threshold of its target phrases are present.
type ComboRule struct {
	Name      string
	Symptoms  []string
	Threshold int
	Level     Tier
	Rationale string
}

var combinationRules = []ComboRule{
	{
		Name:      "cardiac_risk",
		Symptoms:  []string{"chest pain", "shortness of breath", "sweating"},
		Threshold: 2,
		Level:     TierImmediate,
		Rationale: "Multiple cardiac symptoms present",
	},
	{
		Name:      "sepsis_risk",
		Symptoms:  []string{"fever", "confusion", "rapid heart rate", "low blood pressure"},
		Threshold: 2,
		Level:     TierImmediate,
		Rationale: "Possible sepsis - requires immediate evaluation",
	},
	{
		Name:      "respiratory_distress",
		Symptoms:  []string{"shortness of breath", "chest pain", "rapid breathing"},
		Threshold: 2,
		Level:     TierImmediate,
		Rationale: "Respiratory distress pattern",
	},
}

// VitalBand is the safe range for one vital sign. Values strictly outside
// the band trigger the declared tier; values exactly at a bound are safe.
type VitalBand struct {
	Min   float64
	Max   float64
	Level Tier
}

var vitalThresholds = map[string]VitalBand{
	"heart_rate":        {Min: 40, Max: 120, Level: TierUrgent},
	"systolic_bp":       {Min: 90, Max: 180, Level: TierUrgent},
	"diastolic_bp":      {Min: 60, Max: 110, Level: TierUrgent},
	"respiratory_rate":  {Min: 10, Max: 25, Level: TierUrgent},
	"temperature_f":     {Min: 95.0, Max: 103.0, Level: TierUrgent},
	"oxygen_saturation": {Min: 92.0, Max: 100.0, Level: TierImmediate},
}

// vitalAliases maps accepted alternate vital names onto the canonical
// threshold entry, converting the value where the unit differs.
var vitalAliases = map[string]struct {
	canonical string
	convert   func(float64) float64
}{
	"spo2":          {canonical: "oxygen_saturation", convert: nil},
	"temperature_c": {canonical: "temperature_f", convert: func(c float64) float64 { return c*9/5 + 32 }},
}
