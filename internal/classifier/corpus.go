package classifier

// trainingExample pairs a symptom description with its category label.
type trainingExample struct {
	text  string
	label string
}

// trainingCorpus is the curated symptom-to-category dataset the classifier
// is fitted on at construction. Heart-focused baseline categories.
var trainingCorpus = []trainingExample{
	// cardiac_emergency
	{"crushing chest pain radiating to left arm and jaw", "cardiac_emergency"},
	{"severe chest pressure with shortness of breath and sweating", "cardiac_emergency"},
	{"sudden extreme chest tightness with nausea and cold sweat", "cardiac_emergency"},
	{"tearing chest pain radiating to back with unequal blood pressure", "cardiac_emergency"},
	{"chest pain with ST elevation on ECG", "cardiac_emergency"},
	{"acute crushing substernal pain with diaphoresis", "cardiac_emergency"},
	{"sudden cardiac arrest symptoms loss of consciousness no pulse", "cardiac_emergency"},
	{"severe chest pain with troponin elevation and ECG changes", "cardiac_emergency"},
	{"excruciating chest pain and impending feeling of doom", "cardiac_emergency"},
	{"acute onset chest pain with hemodynamic instability", "cardiac_emergency"},
	{"sudden sharp chest pain worse with breathing difficulty", "cardiac_emergency"},
	{"severe retrosternal chest pain with systolic BP drop", "cardiac_emergency"},

	// cardiac_chronic
	{"chronic chest discomfort on exertion relieved by rest", "cardiac_chronic"},
	{"progressive shortness of breath with ankle swelling", "cardiac_chronic"},
	{"fatigue and exercise intolerance with known heart failure", "cardiac_chronic"},
	{"exertional angina stable pattern for months", "cardiac_chronic"},
	{"orthopnea and paroxysmal nocturnal dyspnea", "cardiac_chronic"},
	{"gradually worsening breathlessness with leg edema", "cardiac_chronic"},
	{"known coronary artery disease with stable angina", "cardiac_chronic"},
	{"heart murmur with progressive exercise limitation", "cardiac_chronic"},
	{"dilated cardiomyopathy with reduced ejection fraction", "cardiac_chronic"},
	{"worsening heart failure symptoms NYHA class progression", "cardiac_chronic"},
	{"chronic mitral regurgitation with increasing fatigue", "cardiac_chronic"},
	{"aortic stenosis with syncope on exertion", "cardiac_chronic"},

	// cardiac_arrhythmia
	{"heart palpitations rapid irregular heartbeat", "cardiac_arrhythmia"},
	{"sudden onset rapid heartbeat with dizziness", "cardiac_arrhythmia"},
	{"feeling of skipped heartbeats and racing heart", "cardiac_arrhythmia"},
	{"known atrial fibrillation with irregular pulse", "cardiac_arrhythmia"},
	{"episodes of rapid heart rate with lightheadedness", "cardiac_arrhythmia"},
	{"heart fluttering sensation with fatigue", "cardiac_arrhythmia"},
	{"intermittent palpitations worse with caffeine and stress", "cardiac_arrhythmia"},
	{"slow heart rate below 50 with dizziness and fainting", "cardiac_arrhythmia"},
	{"supraventricular tachycardia episodes", "cardiac_arrhythmia"},
	{"frequent premature ventricular contractions", "cardiac_arrhythmia"},
	{"paroxysmal atrial fibrillation episodes of irregular rhythm", "cardiac_arrhythmia"},
	{"bradycardia with syncope requiring pacemaker evaluation", "cardiac_arrhythmia"},

	// cardiac_risk
	{"high blood pressure readings consistently above 140 90", "cardiac_risk"},
	{"elevated cholesterol LDL above 160 with family history of heart disease", "cardiac_risk"},
	{"diabetes type 2 with uncontrolled blood sugar and chest discomfort", "cardiac_risk"},
	{"obesity BMI over 35 with shortness of breath", "cardiac_risk"},
	{"strong family history of premature coronary artery disease", "cardiac_risk"},
	{"metabolic syndrome with central obesity and high triglycerides", "cardiac_risk"},
	{"smoker for 20 years with occasional chest tightness", "cardiac_risk"},
	{"hypertension stage 2 not responding to single medication", "cardiac_risk"},
	{"prediabetes with elevated hs-CRP and family history CAD", "cardiac_risk"},
	{"sedentary lifestyle with multiple cardiovascular risk factors", "cardiac_risk"},
	{"elevated coronary artery calcium score on CT scan", "cardiac_risk"},
	{"postmenopausal with new onset hypertension and high cholesterol", "cardiac_risk"},

	// non_cardiac
	{"burning stomach pain after eating worse when lying down", "non_cardiac"},
	{"cough with green sputum and fever for 5 days", "non_cardiac"},
	{"sharp pain in chest wall worse when pressing on ribs", "non_cardiac"},
	{"anxiety panic attack with hyperventilation and tingling", "non_cardiac"},
	{"muscle pain in chest after heavy lifting at gym", "non_cardiac"},
	{"acid reflux heartburn relieved by antacids", "non_cardiac"},
	{"headache with nasal congestion and sore throat", "non_cardiac"},
	{"lower back pain radiating to legs", "non_cardiac"},
	{"stomach cramping with diarrhea and nausea", "non_cardiac"},
	{"skin rash with itching on arms and legs", "non_cardiac"},
	{"joint pain and swelling in both knees", "non_cardiac"},
	{"persistent dry cough with mild cold no chest pain", "non_cardiac"},
	{"sore throat with difficulty swallowing and ear pain", "non_cardiac"},
	{"tension headache both sides of head", "non_cardiac"},
	{"insomnia with stress and racing thoughts", "non_cardiac"},
	{"urinary frequency and burning sensation", "non_cardiac"},
}

// CategoryInfo carries the human-readable metadata attached to a predicted
// category.
type CategoryInfo struct {
	Label       string
	Severity    string
	Description string
	Action      string
}

var categoryInfo = map[string]CategoryInfo{
	"cardiac_emergency": {
		Label:       "Cardiac Emergency",
		Severity:    "critical",
		Description: "Possible acute cardiac event requiring immediate attention",
		Action:      "Seek emergency care immediately. Call 112/911.",
	},
	"cardiac_chronic": {
		Label:       "Chronic Cardiac Condition",
		Severity:    "moderate",
		Description: "Symptoms consistent with chronic heart conditions",
		Action:      "Schedule cardiology consultation. Monitor symptoms.",
	},
	"cardiac_arrhythmia": {
		Label:       "Cardiac Arrhythmia",
		Severity:    "moderate",
		Description: "Symptoms suggesting abnormal heart rhythm",
		Action:      "ECG and Holter monitoring recommended. Cardiology referral.",
	},
	"cardiac_risk": {
		Label:       "Cardiovascular Risk Factors",
		Severity:    "low-moderate",
		Description: "Risk factors for future cardiovascular events",
		Action:      "Lifestyle modifications and risk factor management.",
	},
	"non_cardiac": {
		Label:       "Non-Cardiac",
		Severity:    "low",
		Description: "Symptoms likely not heart-related",
		Action:      "Evaluate for other causes. Primary care follow-up.",
	},
}
