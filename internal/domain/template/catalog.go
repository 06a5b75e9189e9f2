package template

const (
	RiskAlertID           = "risk_alert"
	HealthTipHydrationID  = "health_tip_hydration"
	HealthTipDangerSignID = "health_tip_danger_signs"
	AppointmentReminderID = "appointment_reminder"
	MedicationReminderID  = "medication_reminder"
)

// DefaultCatalog returns the built-in templates seeded at startup.
func DefaultCatalog() []*Template {
	return []*Template{
		{
			ID:        RiskAlertID,
			Name:      "Risk alert",
			Category:  CategoryRiskAlert,
			Variables: []string{"patient_name", "risk_level", "factors"},
			Active:    true,
			Content: map[string]string{
				LanguageEnglish:     "Hello {{patient_name}}, your latest check shows {{risk_level}} risk ({{factors}}). Please visit your health center today or call your community health worker.",
				LanguageKinyarwanda: "Muraho {{patient_name}}, isuzuma riheruka ryerekanye ibyago byo ku rwego rwa {{risk_level}} ({{factors}}). Jya ku kigo nderabuzima uyu munsi cyangwa uhamagare umujyanama w'ubuzima.",
				LanguageFrench:      "Bonjour {{patient_name}}, votre dernier contrôle indique un risque {{risk_level}} ({{factors}}). Rendez-vous au centre de santé aujourd'hui ou appelez votre agent de santé communautaire.",
			},
		},
		{
			ID:        HealthTipHydrationID,
			Name:      "Hydration tip",
			Category:  CategoryHealthTip,
			Variables: []string{"patient_name"},
			Active:    true,
			Content: map[string]string{
				LanguageEnglish:     "Hi {{patient_name}}, remember to drink at least 8 glasses of clean water every day.",
				LanguageKinyarwanda: "Muraho {{patient_name}}, wibuke kunywa nibura ibirahuri 8 by'amazi meza buri munsi.",
				LanguageFrench:      "Bonjour {{patient_name}}, pensez à boire au moins 8 verres d'eau potable chaque jour.",
			},
		},
		{
			ID:        HealthTipDangerSignID,
			Name:      "Pregnancy danger signs",
			Category:  CategoryHealthTip,
			Variables: []string{"patient_name"},
			Active:    true,
			Content: map[string]string{
				LanguageEnglish:     "{{patient_name}}, go to the health center at once if you have bleeding, severe headache, blurred vision or swelling of the face and hands.",
				LanguageKinyarwanda: "{{patient_name}}, jya ku kigo nderabuzima vuba niba uva, urwaye umutwe bikabije, utabona neza cyangwa wabyimbye mu maso no ku biganza.",
				LanguageFrench:      "{{patient_name}}, rendez-vous immédiatement au centre de santé en cas de saignement, de maux de tête sévères, de vision trouble ou de gonflement du visage et des mains.",
			},
		},
		{
			ID:        AppointmentReminderID,
			Name:      "Appointment reminder",
			Category:  CategoryAppointment,
			Variables: []string{"patient_name", "appointment_date", "facility"},
			Active:    true,
			Content: map[string]string{
				LanguageEnglish:     "Hello {{patient_name}}, this is a reminder of your antenatal visit on {{appointment_date}} at {{facility}}.",
				LanguageKinyarwanda: "Muraho {{patient_name}}, turakwibutsa isuzuma ry'inda ryawe ku wa {{appointment_date}} kuri {{facility}}.",
				LanguageFrench:      "Bonjour {{patient_name}}, nous vous rappelons votre consultation prénatale le {{appointment_date}} à {{facility}}.",
			},
		},
		{
			ID:        MedicationReminderID,
			Name:      "Medication reminder",
			Category:  CategoryMedication,
			Variables: []string{"patient_name", "medication"},
			Active:    true,
			Content: map[string]string{
				LanguageEnglish:     "Hi {{patient_name}}, it is time to take your {{medication}}.",
				LanguageKinyarwanda: "Muraho {{patient_name}}, igihe cyo gufata {{medication}} cyageze.",
				LanguageFrench:      "Bonjour {{patient_name}}, c'est l'heure de prendre votre {{medication}}.",
			},
		},
	}
}
