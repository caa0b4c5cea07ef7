// Package failrisk predicts whether an applicant is suitable for a course,
// from a small tabular record, and serves that prediction to backend services.
//
// Training runs in three stages, each a package-level component of the
// pipeline package:
//
//   - DataIngestion: reads the raw CSV, keeps a copy and writes an 80/20
//     train/test split
//   - DataTransformation: median / most-frequent imputation, target encoding
//     of the categorical columns and label encoding of Suitability_Label
//   - ModelTrainer: SMOTE oversampling of the training set, then a balanced
//     random forest, evaluated on the untouched test set and explained with
//     TreeSHAP
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/failrisk/config"
//	    "github.com/YuminosukeSato/failrisk/dataset"
//	    "github.com/YuminosukeSato/failrisk/pipeline"
//	)
//
//	func main() {
//	    cfg := config.Default()
//	    cfg.Paths.RawData = "data.csv"
//
//	    res, err := pipeline.NewTrainingPipeline(cfg).Run(context.Background())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Evaluation.Report)
//
//	    p, err := res.Predictor()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    labels, err := p.Predict([]dataset.Record{{
//	        Age: 24, Gender: "Male", City: "Chennai",
//	        HighestQualification: "B.E", Stream: "CSE", YearOfCompletion: 2022,
//	        AreYouCurrentlyWorking: "No", YourDesignation: "Student",
//	        EmploymentType: "Unemployed",
//	    }})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Prediction:", labels[0])
//	}
//
// # Packages
//
//   - config: YAML + dotenv + FAILRISK_* environment configuration
//   - dataset: record schema, CSV frame and API record decoding
//   - preprocessing: SimpleImputer, TargetEncoder, LabelEncoder, ColumnTransformer
//   - sklearn/tree, sklearn/ensemble: CART trees and RandomForestClassifier
//   - sklearn/imblearn: SMOTE and the resampling Pipeline
//   - sklearn/explain: TreeSHAP for the forest
//   - metrics: accuracy, classification report, confusion matrix, ROC AUC
//   - report: confusion matrix and SHAP summary charts
//   - pipeline: training stages and the PredictPipeline
//   - serving: HTTP API (/health, /predict, /predict_bulk, /metrics)
//   - core/model: estimator interfaces and the artifact store
//   - core/parallel: worker fan-out for trees and neighbours
//   - pkg/errors, pkg/log: structured errors and zerolog-backed logging
//
// The failrisk command wraps these as the train, serve and predict
// subcommands.
package failrisk
